package mint

import (
	"context"
	"net"
	"time"

	"github.com/hashpool/hashpool/internal/sv2"
	"github.com/hashpool/hashpool/pkg/log"
)

// Server terminates the SV2 mint-quote sub-protocol. The pool is the
// initiator; one connection per deployment is expected but concurrent
// connections are tolerated. The link carries no Noise encryption, a
// known gap of the current design.
type Server struct {
	svc          *Service
	logger       *log.Logger
	writeTimeout time.Duration
}

// NewServer creates the SV2 quote server around an issuance service
func NewServer(svc *Service, writeTimeout time.Duration, logger *log.Logger) *Server {
	return &Server{
		svc:          svc,
		logger:       logger.WithComponent("mint_server"),
		writeTimeout: writeTimeout,
	}
}

// Serve accepts pool connections until ctx is cancelled
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger.WithError(err).Error("accept failed")
			return err
		}
		s.logger.LogConnection("pool_connected", conn.RemoteAddr().String())
		go s.handleConn(ctx, conn)
	}
}

// handleConn processes one pool link. Requests are answered
// concurrently; every response carries the share hash so the pool's
// correlator never depends on ordering.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	framer := sv2.NewFramer(conn, 0, s.writeTimeout)
	defer framer.Close()

	for {
		frame, err := framer.Read()
		if err != nil {
			s.logger.LogConnection("pool_disconnected", framer.RemoteAddr())
			return
		}

		if frame.MsgType != sv2.MsgTypeMintQuoteRequest {
			s.logger.Warn("dropping unexpected frame", "msg_type", frame.MsgType)
			continue
		}

		req, err := sv2.UnmarshalMintQuoteRequest(frame.Payload)
		if err != nil {
			s.logger.WithError(err).Warn("dropping malformed quote request")
			continue
		}

		go s.answer(ctx, framer, req)
	}
}

func (s *Server) answer(ctx context.Context, framer *sv2.Framer, req *sv2.MintQuoteRequest) {
	resp, quoteErr := s.svc.IssueQuote(ctx, req)

	var frame *sv2.Frame
	var err error
	if quoteErr != nil {
		frame, err = quoteErr.Frame()
	} else {
		frame, err = resp.Frame()
	}
	if err != nil {
		s.logger.WithError(err).Error("failed to encode quote reply")
		return
	}

	if err := framer.Write(frame); err != nil {
		s.logger.WithError(err).Warn("failed to write quote reply")
	}
}
