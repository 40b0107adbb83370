package render

import (
	"net/http"
	"strings"
)

const defaultHost = "localhost:8042"

// BaseURL returns the absolute DICOMweb root, e.g. "https://host/dicom-web/".
// host overrides the Host header of the request.
func BaseURL(ssl bool, host, root string, r *http.Request) string {
	if host == "" && r != nil {
		host = r.Host
	}
	if host == "" {
		host = defaultHost
	}

	scheme := "http://"
	if ssl {
		scheme = "https://"
	}
	if !strings.HasSuffix(root, "/") {
		root += "/"
	}
	return scheme + host + root
}

// RetrieveURL returns the WADO-RS URL of a study, series or instance. It is
// empty when study is empty. Deeper levels are appended only while their
// UIDs are present.
func RetrieveURL(base, study, series, instance string) string {
	if study == "" {
		return ""
	}
	url := base + "studies/" + study
	if series == "" {
		return url
	}
	url += "/series/" + series
	if instance == "" {
		return url
	}
	return url + "/instances/" + instance
}

// BulkURIRoot returns the prefix of bulk data URIs of an instance, or an
// empty string when one of the UIDs is missing.
func BulkURIRoot(base, study, series, instance string) string {
	if study == "" || series == "" || instance == "" {
		return ""
	}
	return RetrieveURL(base, study, series, instance) + "/bulk/"
}
