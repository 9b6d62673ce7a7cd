/*
Package server implements msgpack IPC for ICD-10-PCS code services.

The server reads one msgpack value per request from stdin and writes one
msgpack value per response to stdout. Requests are processed synchronously
and every response carries the request id, a status and the time taken in
microseconds.

# IPC

Each request names an op and the fields that op reads:

	{"id": "r1", "op": "validate", "code": "0JH60MZ"}
	{"id": "r2", "op": "expand", "code": "0JH6", "l": 20}
	{"id": "r3", "op": "search", "q": "excision knee", "l": 10, "cutoff": 80}
	{"id": "r4", "op": "suggest", "text": "Open insertion of stimulator generator into chest", "l": 5}

Supported ops are validate, prefix, expand, explain, next, search, suggest,
stats and health. The server responds with:

	{"id": "r1", "status": "ok", "v": true, "t": 12}
	{"id": "r2", "status": "ok", "codes": ["0JH60MZ", ...], "c": 20, "t": 31}

A request that cannot be decoded or names an unknown op gets an error
response and the loop continues:

	{"id": "r5", "status": "error", "error": "unknown op: frobnicate", "t": 1}

Limits above server.max_limit are clamped and text past server.max_text is
truncated. The server announces {"status": "ready"} before the first read.

# References

The loaded references live behind an atomic pointer. A watcher may call Swap
with a freshly built bundle while requests are being served; each request
sees one consistent bundle.
*/
package server

import (
	"github.com/bastiangx/pcserve/pkg/dictionary"
	"github.com/bastiangx/pcserve/pkg/index"
	"github.com/bastiangx/pcserve/pkg/suggest"
	"github.com/bastiangx/pcserve/pkg/tables"
)

// Ops understood by the server.
const (
	OpValidate = "validate"
	OpPrefix   = "prefix"
	OpExpand   = "expand"
	OpExplain  = "explain"
	OpNext     = "next"
	OpSearch   = "search"
	OpSuggest  = "suggest"
	OpStats    = "stats"
	OpHealth   = "health"
)

// Response statuses.
const (
	StatusOK    = "ok"
	StatusError = "error"
	StatusReady = "ready"
)

// Request is one client message.
type Request struct {
	ID     string `msgpack:"id"`
	Op     string `msgpack:"op"`
	Code   string `msgpack:"code,omitempty"`
	Query  string `msgpack:"q,omitempty"`
	Text   string `msgpack:"text,omitempty"`
	Limit  int    `msgpack:"l,omitempty"`
	Cutoff *int   `msgpack:"cutoff,omitempty"`
}

// Response is one server message. Only the fields of the requested op are set.
type Response struct {
	ID          string               `msgpack:"id,omitempty"`
	Status      string               `msgpack:"status"`
	Error       string               `msgpack:"error,omitempty"`
	Valid       *bool                `msgpack:"v,omitempty"`
	Codes       []string             `msgpack:"codes,omitempty"`
	Explanation *tables.Explanation  `msgpack:"x,omitempty"`
	Description string               `msgpack:"d,omitempty"`
	Next        *tables.Continuation `msgpack:"n,omitempty"`
	Hits        []index.Hit          `msgpack:"hits,omitempty"`
	Suggestions []suggest.Suggestion `msgpack:"s,omitempty"`
	Stats       *StatsPayload        `msgpack:"stats,omitempty"`
	Count       int                  `msgpack:"c,omitempty"`
	TimeTaken   int64                `msgpack:"t"`
}

// StatsPayload describes the loaded references. Operations counts the
// operation labels of the definitions file, Definitions its defined terms.
type StatsPayload struct {
	Tables       tables.Stats             `msgpack:"tables"`
	Index        *index.Stats             `msgpack:"index,omitempty"`
	Operations   int                      `msgpack:"operations"`
	Definitions  int                      `msgpack:"definitions"`
	Registry     dictionary.RegistryStats `msgpack:"registry"`
	Fingerprints map[string]string        `msgpack:"fingerprints"`
	LoadedAt     int64                    `msgpack:"loaded_at"`
	Requests     int64                    `msgpack:"requests"`
}
