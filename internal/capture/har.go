package capture

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"apitap/internal/api"
)

// harLog is the subset of the HAR 1.2 format the importer reads.
type harLog struct {
	Log struct {
		Entries []harEntry `json:"entries"`
	} `json:"log"`
}

type harEntry struct {
	StartedDateTime string `json:"startedDateTime"`
	Request         struct {
		Method   string      `json:"method"`
		URL      string      `json:"url"`
		Headers  []harHeader `json:"headers"`
		PostData *struct {
			MimeType string `json:"mimeType"`
			Text     string `json:"text"`
		} `json:"postData"`
	} `json:"request"`
	Response struct {
		Status  int         `json:"status"`
		Headers []harHeader `json:"headers"`
		Content struct {
			MimeType string `json:"mimeType"`
			Text     string `json:"text"`
		} `json:"content"`
	} `json:"response"`
}

type harHeader struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// ParseHAR converts a browser HAR export into exchanges. This is the
// browserless capture path: record traffic in any browser's devtools,
// export, import here.
func ParseHAR(data []byte) ([]api.Exchange, error) {
	var har harLog
	if err := json.Unmarshal(data, &har); err != nil {
		return nil, fmt.Errorf("parsing HAR: %w", err)
	}
	if len(har.Log.Entries) == 0 {
		return nil, fmt.Errorf("HAR contains no entries")
	}

	exchanges := make([]api.Exchange, 0, len(har.Log.Entries))
	for _, entry := range har.Log.Entries {
		ex := api.Exchange{
			Request: api.ExchangeRequest{
				URL:     entry.Request.URL,
				Method:  strings.ToUpper(entry.Request.Method),
				Headers: headerMap(entry.Request.Headers),
			},
			Response: api.ExchangeResponse{
				Status:      entry.Response.Status,
				Headers:     headerMap(entry.Response.Headers),
				Body:        entry.Response.Content.Text,
				ContentType: entry.Response.Content.MimeType,
			},
		}
		if entry.Request.PostData != nil {
			ex.Request.PostData = entry.Request.PostData.Text
			if _, ok := ex.Request.Headers["content-type"]; !ok {
				ex.Request.Headers["content-type"] = entry.Request.PostData.MimeType
			}
		}
		if ts, err := time.Parse(time.RFC3339, entry.StartedDateTime); err == nil {
			ex.Timestamp = ts
		}
		exchanges = append(exchanges, ex)
	}
	return exchanges, nil
}

func headerMap(headers []harHeader) map[string]string {
	m := make(map[string]string, len(headers))
	for _, h := range headers {
		name := strings.ToLower(h.Name)
		if strings.HasPrefix(name, ":") {
			// HTTP/2 pseudo-headers carry no replay value.
			continue
		}
		m[name] = h.Value
	}
	return m
}
