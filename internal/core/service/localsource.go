package service

import (
	"context"

	"github.com/kitedb/kitesync/internal/transport"
)

// LocalSource adapts an in-process Primary to the transport.Source
// interface, for embedded deployments where primary and replica share
// a process.
type LocalSource struct {
	primary *Primary
}

// NewLocalSource wraps the primary as a replica pull source.
func NewLocalSource(p *Primary) *LocalSource {
	return &LocalSource{primary: p}
}

// FetchSnapshot serves a full state export including data.
func (s *LocalSource) FetchSnapshot(ctx context.Context) (*transport.Snapshot, error) {
	return s.primary.ExportSnapshot(ctx, true)
}

// FetchLogPage serves one page of the commit log.
func (s *LocalSource) FetchLogPage(ctx context.Context, req transport.LogPageRequest) (*transport.LogPage, error) {
	return s.primary.ExportLogPage(ctx, req)
}

var _ transport.Source = (*LocalSource)(nil)
