// Package wire defines the messages the loader exchanges with remote nodes
// and the codec used to put them on the network. Wire compatibility across
// versions is not a goal here; what matters is that entries-blob and
// error-blob stay opaque to everything except the configured Marshaller,
// and that the envelope framing is cheap to parse.
package wire

import (
	"github.com/griddata/loader/cluster"
)

// LoadTopic is the well-known transport topic every LoadRequest is sent
// on. Each loader instance gets its own response topic (see the router
// package) instead of sharing one, so responses never need a per-loader
// id field.
const LoadTopic = "griddata.load"

// LoadRequest is sent from a loader to the node that owns a batch of
// entries. ReqID is unique within the sending buffer's lifetime.
type LoadRequest struct {
	ReqID         uint64
	ResponseTopic string
	CacheName     string
	EntriesBlob   []byte
	SkipStore     bool
	Deployment    *cluster.Deployment
}

// LoadResponse answers a LoadRequest. ErrorBlob is nil on success; when
// present it is an opaque, marshaller-encoded error.
type LoadResponse struct {
	ReqID     uint64
	ErrorBlob []byte
}

// Marshaller encodes/decodes the opaque entries-blob and error-blob
// carried by LoadRequest/LoadResponse. The loader treats these
// blobs as opaque; only the Marshaller understands their contents.
type Marshaller interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}
