package pagestore

import (
	"context"

	"github.com/graft-sh/graft/wire"
)

// RegisterRoutes wires the pagestore's wire protocol routes onto srv.
func RegisterRoutes(srv *wire.Server, p *Pipeline) {
	srv.Handle(wire.RoutePagestoreWritePages, p.handleWritePages)
	srv.Handle(wire.RoutePagestoreReadPages, p.handleReadPages)
}

func (p *Pipeline) handleWritePages(reqBody []byte) ([]byte, error) {
	req, err := wire.DecodeWritePagesRequest(reqBody)
	if err != nil {
		return nil, err
	}
	accepted, err := p.WritePages(context.Background(), req.Volume, req.Pages)
	if err != nil {
		return nil, err
	}
	resp := &wire.WritePagesResponse{Accepted: accepted}
	return resp.Encode(), nil
}

func (p *Pipeline) handleReadPages(reqBody []byte) ([]byte, error) {
	req, err := wire.DecodeReadPagesRequest(reqBody)
	if err != nil {
		return nil, err
	}
	pages, err := p.ReadPages(context.Background(), req.Volume, req.Indices)
	if err != nil {
		return nil, err
	}
	resp := &wire.ReadPagesResponse{Pages: pages}
	return resp.Encode(), nil
}
