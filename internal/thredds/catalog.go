// Package thredds parses THREDDS catalog listings and filters them down to the
// NetCDF files produced for a stream.
package thredds

import (
	"bytes"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/antchfx/xmlquery"
)

// Entry is one dataset listed in a catalog.
type Entry struct {
	Name        string
	ID          string
	URLPath     string
	SizeBytes   int64
	Modified    string
	DownloadURL string
}

// Catalog is the parsed form of a catalog listing.
type Catalog struct {
	FileServerBase string
	Entries        []Entry
}

// Dataset is a data file that follows the deployment/stream/time-range naming convention.
type Dataset struct {
	Entry
	Deployment int
	Start      time.Time
	End        time.Time
}

// FilteredSet is the usable subset of a catalog for one stream.
type FilteredSet struct {
	Datasets   []Dataset
	Provenance []Entry
	TotalBytes int64
}

const fileTimeLayout = "20060102T150405.999999"

// Parse reads a THREDDS catalog XML document. catalogURL resolves the file
// server base into absolute download URLs and may be empty.
func Parse(data []byte, catalogURL string) (Catalog, error) {
	doc, err := xmlquery.Parse(bytes.NewReader(data))
	if err != nil {
		return Catalog{}, fmt.Errorf("parse catalog xml: %w", err)
	}
	if xmlquery.FindOne(doc, "//*[local-name()='catalog']") == nil {
		return Catalog{}, fmt.Errorf("parse catalog xml: no catalog element")
	}

	var cat Catalog
	if svc := xmlquery.FindOne(doc, "//*[local-name()='service'][@serviceType='HTTPServer']"); svc != nil {
		cat.FileServerBase = svc.SelectAttr("base")
	}

	nodes, err := xmlquery.QueryAll(doc, "//*[local-name()='dataset'][@urlPath]")
	if err != nil {
		return Catalog{}, fmt.Errorf("query datasets: %w", err)
	}
	for _, n := range nodes {
		entry := Entry{
			Name:    n.SelectAttr("name"),
			ID:      n.SelectAttr("ID"),
			URLPath: n.SelectAttr("urlPath"),
		}
		if size := xmlquery.FindOne(n, "./*[local-name()='dataSize']"); size != nil {
			entry.SizeBytes = toBytes(strings.TrimSpace(size.InnerText()), size.SelectAttr("units"))
		}
		if date := xmlquery.FindOne(n, "./*[local-name()='date'][@type='modified']"); date != nil {
			entry.Modified = strings.TrimSpace(date.InnerText())
		}
		entry.DownloadURL = downloadURL(catalogURL, cat.FileServerBase, entry.URLPath)
		cat.Entries = append(cat.Entries, entry)
	}
	return cat, nil
}

// Filter keeps the stream's NetCDF files and provenance documents, ordered by
// deployment then start time then name.
func Filter(cat Catalog, tableName string) FilteredSet {
	quoted := regexp.QuoteMeta(tableName)
	dataRe := regexp.MustCompile(`^deployment(\d{4})_` + quoted + `_(\d{8}T\d{6}\.\d+)-(\d{8}T\d{6}\.\d+)\.nc$`)
	provRe := regexp.MustCompile(`^deployment(\d{4})_` + quoted + `_aggregate_provenance\.json$`)

	var out FilteredSet
	for _, e := range cat.Entries {
		name := baseName(e)
		if m := dataRe.FindStringSubmatch(name); m != nil {
			deployment, _ := strconv.Atoi(m[1])
			start, errStart := time.Parse(fileTimeLayout, m[2])
			end, errEnd := time.Parse(fileTimeLayout, m[3])
			if errStart != nil || errEnd != nil {
				continue
			}
			out.Datasets = append(out.Datasets, Dataset{
				Entry:      e,
				Deployment: deployment,
				Start:      start.UTC(),
				End:        end.UTC(),
			})
			out.TotalBytes += e.SizeBytes
			continue
		}
		if provRe.MatchString(name) {
			out.Provenance = append(out.Provenance, e)
		}
	}

	sort.SliceStable(out.Datasets, func(i, j int) bool {
		a, b := out.Datasets[i], out.Datasets[j]
		if a.Deployment != b.Deployment {
			return a.Deployment < b.Deployment
		}
		if !a.Start.Equal(b.Start) {
			return a.Start.Before(b.Start)
		}
		return a.Name < b.Name
	})
	sort.SliceStable(out.Provenance, func(i, j int) bool {
		return out.Provenance[i].Name < out.Provenance[j].Name
	})
	return out
}

// ParseAndFilter parses a catalog listing and filters it for tableName.
func ParseAndFilter(data []byte, catalogURL, tableName string) (FilteredSet, error) {
	cat, err := Parse(data, catalogURL)
	if err != nil {
		return FilteredSet{}, err
	}
	return Filter(cat, tableName), nil
}

// Overlapping returns datasets whose time span intersects [start, end].
func (f FilteredSet) Overlapping(start, end time.Time) []Dataset {
	var out []Dataset
	for _, d := range f.Datasets {
		if d.End.Before(start) || d.Start.After(end) {
			continue
		}
		out = append(out, d)
	}
	return out
}

// XMLURL converts an HTML catalog link into its XML listing.
func XMLURL(catalogURL string) string {
	if strings.HasSuffix(catalogURL, ".html") {
		return strings.TrimSuffix(catalogURL, ".html") + ".xml"
	}
	return catalogURL
}

func baseName(e Entry) string {
	name := e.Name
	if name == "" {
		name = e.URLPath
	}
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	return name
}

func toBytes(value, units string) int64 {
	v, err := strconv.ParseFloat(strings.ReplaceAll(value, ",", ""), 64)
	if err != nil {
		return 0
	}
	switch strings.ToLower(units) {
	case "kbytes":
		v *= 1e3
	case "mbytes":
		v *= 1e6
	case "gbytes":
		v *= 1e9
	case "tbytes":
		v *= 1e12
	}
	return int64(v)
}

func downloadURL(catalogURL, base, urlPath string) string {
	if urlPath == "" || base == "" || catalogURL == "" {
		return ""
	}
	ref, err := url.Parse(strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(urlPath, "/"))
	if err != nil {
		return ""
	}
	root, err := url.Parse(catalogURL)
	if err != nil {
		return ""
	}
	return root.ResolveReference(ref).String()
}
