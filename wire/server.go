package wire

import (
	"net"

	"github.com/valyala/fasthttp"

	"github.com/graft-sh/graft/auth"
	"github.com/graft-sh/graft/cmn/nlog"
	"github.com/graft-sh/graft/gerrs"
)

// Handler processes one route's already-authenticated, already-framed
// request body and returns the bytes to write back.
type Handler func(reqBody []byte) ([]byte, error)

// Server dispatches the six routes over fasthttp, chosen because it is in
// the teacher's own dependency graph and gives zero-copy access to the
// raw POST body, which recwire's framing reads directly without an extra
// copy through net/http's io.Reader interface.
type Server struct {
	auth   auth.Authenticator
	routes map[string]Handler
}

func NewServer(authenticator auth.Authenticator) *Server {
	return &Server{auth: authenticator, routes: make(map[string]Handler)}
}

func (s *Server) Handle(route string, h Handler) { s.routes[route] = h }

func (s *Server) requestHandler(ctx *fasthttp.RequestCtx) {
	path := string(ctx.Path())
	h, ok := s.routes[path]
	if !ok {
		ctx.SetStatusCode(fasthttp.StatusNotFound)
		return
	}

	if s.auth != nil {
		token := ctx.Request.Header.Peek("Authorization")
		if _, err := s.auth.Verify(token); err != nil {
			writeError(ctx, gerrs.Unauthorized("invalid or missing token"))
			return
		}
	}

	body := ctx.PostBody()
	respBody, err := h(body)
	if err != nil {
		var ge *gerrs.Error
		if !asGraftError(err, &ge) {
			ge = gerrs.Wrap(gerrs.KindFatal, err, "unhandled error")
		}
		writeError(ctx, ge)
		return
	}

	ctx.SetContentType(ContentType)
	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetBody(respBody)
}

func asGraftError(err error, out **gerrs.Error) bool {
	if e, ok := err.(*gerrs.Error); ok {
		*out = e
		return true
	}
	return false
}

func writeError(ctx *fasthttp.RequestCtx, e *gerrs.Error) {
	ctx.SetContentType(ContentType)
	ctx.SetStatusCode(gerrs.HTTPStatus(e.Kind))
	ctx.SetBody(EncodeError(e))
	nlog.Warningf("wire: %s %s -> %s", ctx.Method(), ctx.Path(), e.Error())
}

// ListenAndServe blocks serving addr until the process is terminated.
func (s *Server) ListenAndServe(addr string) error {
	srv := &fasthttp.Server{Handler: s.requestHandler, Name: "graft"}
	nlog.Infof("wire: listening on %s", addr)
	return srv.ListenAndServe(addr)
}

// Serve blocks serving an already-bound listener, used by tests and by
// callers that need control over the listen address (e.g. binding to
// port 0 and reading back the OS-assigned port).
func (s *Server) Serve(ln net.Listener) error {
	srv := &fasthttp.Server{Handler: s.requestHandler, Name: "graft"}
	return srv.Serve(ln)
}
