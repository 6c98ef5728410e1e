package geo

import (
	"errors"
	"fmt"
	"net"
	"os"
	"regexp"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/oschwald/geoip2-golang"

	"warden/internal/domain"
)

var datacenterRegex = regexp.MustCompile(`(?i)(amazon|google|microsoft|digitalocean|linode|hetzner|ovh|vultr|ibm|alibaba|tencent|cloudflare|rackspace|hostinger|upcloud|azure|gcp|aws)`)

// Resolver answers country/ISP questions from local GeoLite2 databases. It
// backfills reputation metadata when the external lookup API is skipped or
// out of budget. A resolver with no databases loaded is valid and enriches
// nothing.
type Resolver struct {
	mu        sync.RWMutex
	countryDB *geoip2.Reader
	asnDB     *geoip2.Reader
}

// NewResolver opens the given mmdb files. Empty paths are skipped; a path
// that fails to open is logged and skipped so a missing database never
// blocks startup.
func NewResolver(countryPath, asnPath string) *Resolver {
	r := &Resolver{}

	if countryPath != "" {
		reader, err := readerFromDisk(countryPath)
		if err != nil {
			log.Warn("GeoLite country database unavailable", "path", countryPath, "error", err)
		} else {
			r.countryDB = reader
		}
	}

	if asnPath != "" {
		reader, err := readerFromDisk(asnPath)
		if err != nil {
			log.Warn("GeoLite ASN database unavailable", "path", asnPath, "error", err)
		} else {
			r.asnDB = reader
		}
	}

	return r
}

func readerFromDisk(path string) (*geoip2.Reader, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return geoip2.FromBytes(data)
}

// Reload swaps in fresh database files, e.g. after an update job fetched
// new ones.
func (r *Resolver) Reload(countryPath, asnPath string) error {
	var errorList []error

	var countryReader, asnReader *geoip2.Reader
	if countryPath != "" {
		reader, err := readerFromDisk(countryPath)
		if err != nil {
			errorList = append(errorList, fmt.Errorf("country: %w", err))
		} else {
			countryReader = reader
		}
	}
	if asnPath != "" {
		reader, err := readerFromDisk(asnPath)
		if err != nil {
			errorList = append(errorList, fmt.Errorf("asn: %w", err))
		} else {
			asnReader = reader
		}
	}

	r.mu.Lock()
	oldCountry, oldASN := r.countryDB, r.asnDB
	if countryReader != nil {
		r.countryDB = countryReader
	}
	if asnReader != nil {
		r.asnDB = asnReader
	}
	r.mu.Unlock()

	if countryReader != nil && oldCountry != nil {
		_ = oldCountry.Close()
	}
	if asnReader != nil && oldASN != nil {
		_ = oldASN.Close()
	}

	return errors.Join(errorList...)
}

// Available reports whether at least one database is loaded.
func (r *Resolver) Available() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.countryDB != nil || r.asnDB != nil
}

// Enrich fills empty metadata fields from the local databases. Populated
// fields are left alone so API-sourced data always wins.
func (r *Resolver) Enrich(ip string, meta *domain.ReputationMeta) {
	if meta == nil {
		return
	}
	parsed := net.ParseIP(ip)
	if parsed == nil || parsed.To4() == nil {
		return
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if meta.Country == "" && r.countryDB != nil {
		if record, err := r.countryDB.Country(parsed); err == nil {
			meta.Country = record.Country.IsoCode
		}
	}

	if r.asnDB != nil {
		if record, err := r.asnDB.ASN(parsed); err == nil {
			org := record.AutonomousSystemOrganization
			if meta.ISP == "" {
				meta.ISP = org
			}
			if meta.UsageType == "" && datacenterRegex.MatchString(org) {
				meta.UsageType = "Data Center/Web Hosting/Transit"
			}
		}
	}
}

// Close releases the underlying readers.
func (r *Resolver) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.countryDB != nil {
		_ = r.countryDB.Close()
		r.countryDB = nil
	}
	if r.asnDB != nil {
		_ = r.asnDB.Close()
		r.asnDB = nil
	}
}
