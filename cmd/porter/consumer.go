package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/pmgate/pmgate/admission"
	"github.com/pmgate/pmgate/platform"

	"github.com/carlmjohnson/versioninfo"
	"github.com/gorilla/websocket"
)

// RunConsumer subscribes to the gateway's live update stream and feeds
// private-message frames through the scheduler, reconnecting with backoff
// when the stream drops. Blocks until ctx is canceled.
func (s *Server) RunConsumer(ctx context.Context, parallelism int) error {
	cur, err := s.ReadLastCursor(ctx)
	if err != nil {
		return err
	}
	if cur != 0 {
		atomic.StoreInt64(&s.lastSeq, cur)
	}

	sched := NewScheduler(parallelism, s.handleUpdate)
	defer sched.Shutdown()

	u, err := url.Parse(s.updatesHost)
	if err != nil {
		return fmt.Errorf("invalid updates host URI: %w", err)
	}
	u.Path = "/v1/updates"

	dialer := websocket.DefaultDialer
	var backoff int
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		cursor := atomic.LoadInt64(&s.lastSeq)
		if cursor != 0 {
			u.RawQuery = fmt.Sprintf("cursor=%d", cursor)
		}
		s.logger.Info("subscribing to update stream", "upstream", s.updatesHost, "cursor", cursor)
		con, _, err := dialer.DialContext(ctx, u.String(), http.Header{
			"User-Agent": []string{fmt.Sprintf("porter/%s", versioninfo.Short())},
		})
		if err != nil {
			s.logger.Warn("dialing failed", "url", u.String(), "err", err, "backoff", backoff)
			time.Sleep(time.Duration(5+backoff) * time.Second)
			backoff++
			streamReconnects.Inc()
			continue
		}
		backoff = 0

		if err := s.readStream(ctx, con, sched); err != nil {
			s.logger.Warn("update stream closed", "err", err)
		}
		streamReconnects.Inc()
	}
}

func (s *Server) readStream(ctx context.Context, con *websocket.Conn, sched *Scheduler) error {
	defer con.Close()

	// unblock the read when the context goes away
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			con.Close()
		case <-done:
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		var u platform.Update
		if err := con.ReadJSON(&u); err != nil {
			return err
		}
		updatesReceived.Inc()

		// the stream carries every event kind the account sees; only private
		// message events concern us
		if !u.Private || u.PeerID <= 0 {
			updatesSkipped.Inc()
			continue
		}

		if err := sched.AddWork(ctx, u.PeerID, &u); err != nil {
			return err
		}
	}
}

// handleUpdate is the scheduler's work function. It never returns an error:
// a message the engine cannot process is logged and counted, and the stream
// moves on.
func (s *Server) handleUpdate(ctx context.Context, u *platform.Update) error {
	ctx, span := tracer.Start(ctx, "handleUpdate")
	defer span.End()

	atomic.StoreInt64(&s.lastSeq, u.MessageID)
	currentCursor.Set(float64(u.MessageID))

	msg := admission.Message{
		ID:         u.MessageID,
		Sender:     admission.SenderID(u.PeerID),
		Outgoing:   u.Outgoing,
		HasSticker: u.HasSticker,
		SentAt:     time.Unix(u.SentAt, 0),
	}
	if err := s.engine.ProcessMessage(ctx, msg); err != nil {
		updatesFailed.Inc()
		s.logger.Error("admission processing failed", "peer", u.PeerID, "messageId", u.MessageID, "err", err)
	}
	return nil
}
