package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/intervox/internal/interview"
	"github.com/MrWong99/intervox/internal/session"
	"github.com/MrWong99/intervox/pkg/audio"
)

// Client message types.
const (
	msgContext        = "context"
	msgStartUtterance = "start-utterance"
	msgEndUtterance   = "end-utterance"
)

// Reasons for errors raised before a session exists.
const (
	reasonInvalidContext  = "invalid_context"
	reasonTooManySessions = "too_many_sessions"
)

// clientMessage is an inbound text frame. Only "context" messages use the
// remaining fields.
type clientMessage struct {
	Type            string `json:"type"`
	JobDescription  string `json:"job_description"`
	ExperienceYears *int   `json:"experience_years"`
	CandidateName   string `json:"candidate_name"`
	Codec           string `json:"codec"`
	SampleRate      int    `json:"sample_rate"`
	Channels        int    `json:"channels"`
}

// handleWS runs one interview over a WebSocket. The interview context comes
// from the query string (job, exp, name, codec, rate, channels) or from a
// leading {"type":"context"} message.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.originPatterns})
	if err != nil {
		slog.Warn("websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(s.readLimit)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	in := make(chan session.Inbound, defaultInboundBuf)
	first := make(chan clientMessage, 1)
	go s.readLoop(ctx, cancel, conn, first, in)

	var msg clientMessage
	if hasContextParams(r.URL.Query()) {
		msg = contextFromQuery(r.URL.Query())
	} else {
		timer := time.NewTimer(s.contextWait)
		select {
		case m, ok := <-first:
			if ok {
				msg = m
			}
		case <-timer.C:
		case <-ctx.Done():
		}
		timer.Stop()
	}
	if ctx.Err() != nil {
		return
	}

	ic, opts, err := s.interviewContext(msg)
	if err != nil {
		s.reject(ctx, conn, reasonInvalidContext, err, websocket.StatusPolicyViolation)
		return
	}
	id, err := s.registry.Create(ic, opts...)
	if err != nil {
		if errors.Is(err, session.ErrTooManySessions) {
			s.reject(ctx, conn, reasonTooManySessions, err, websocket.StatusTryAgainLater)
			return
		}
		s.reject(ctx, conn, reasonInvalidContext, err, websocket.StatusPolicyViolation)
		return
	}
	defer s.registry.Remove(id)

	sess, err := s.registry.Get(id)
	if err != nil {
		return
	}
	runErr := sess.Run(ctx, in, &wsSink{conn: conn})
	if runErr != nil {
		slog.Error("session failed", "session_id", id, "err", runErr)
		conn.Close(websocket.StatusInternalError, session.ReasonLLMUnavailable)
		return
	}
	conn.Close(websocket.StatusNormalClosure, "")
}

// readLoop forwards client frames to in until the connection drops, then
// cancels the session so in-flight calls are abandoned. The first frame is
// reported on first when it is a context message; first is closed after the
// first frame either way.
func (s *Server) readLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, first chan<- clientMessage, in chan<- session.Inbound) {
	defer cancel()
	defer close(in)
	firstPending := true
	defer func() {
		if firstPending {
			close(first)
		}
	}()

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil && websocket.CloseStatus(err) == -1 {
				slog.Debug("websocket read ended", "err", err)
			}
			return
		}

		var msg session.Inbound
		switch typ {
		case websocket.MessageBinary:
			msg = session.Inbound{Kind: session.InboundAudio, Audio: data}
		case websocket.MessageText:
			var cm clientMessage
			if err := json.Unmarshal(data, &cm); err != nil {
				slog.Debug("ignoring malformed client message", "err", err)
				continue
			}
			switch cm.Type {
			case msgContext:
				if firstPending {
					firstPending = false
					first <- cm
					close(first)
				} else {
					slog.Debug("ignoring late context message")
				}
				continue
			case msgStartUtterance:
				msg = session.Inbound{Kind: session.InboundStartUtterance}
			case msgEndUtterance:
				msg = session.Inbound{Kind: session.InboundEndUtterance}
			default:
				slog.Debug("ignoring unknown client message", "type", cm.Type)
				continue
			}
		}
		if firstPending {
			firstPending = false
			close(first)
		}

		select {
		case in <- msg:
		case <-ctx.Done():
			return
		}
	}
}

// reject reports a setup error to the client and closes the connection.
func (s *Server) reject(ctx context.Context, conn *websocket.Conn, reason string, err error, code websocket.StatusCode) {
	slog.Warn("rejecting interview", "reason", reason, "err", err)
	sink := &wsSink{conn: conn}
	_ = sink.Send(ctx, session.Event{Type: session.EventError, Reason: reason, Message: err.Error(), Fatal: true})
	conn.Close(code, reason)
}

// interviewContext merges msg over the defaults and resolves the audio
// format.
func (s *Server) interviewContext(msg clientMessage) (interview.Context, []session.CreateOption, error) {
	ic := interview.Context{
		JobDescription: msg.JobDescription,
		CandidateName:  msg.CandidateName,
	}
	def := s.contextDefaults()
	ic.ExperienceYears = def.ExperienceYears
	if msg.ExperienceYears != nil {
		ic.ExperienceYears = *msg.ExperienceYears
	}
	ic = ic.WithDefaults(def)
	if err := ic.Validate(); err != nil {
		return interview.Context{}, nil, err
	}

	if msg.SampleRate < 0 || msg.Channels < 0 {
		return interview.Context{}, nil, errors.New("sample rate and channels must be positive integers")
	}
	if msg.Codec == "" && msg.SampleRate == 0 && msg.Channels == 0 {
		return ic, nil, nil
	}
	codec, err := audio.ParseCodec(msg.Codec)
	if err != nil {
		return interview.Context{}, nil, err
	}
	if msg.Codec == "" {
		codec = ""
	}
	return ic, []session.CreateOption{
		session.WithInputFormat(codec, audio.Format{SampleRate: msg.SampleRate, Channels: msg.Channels}),
	}, nil
}

var contextParams = []string{"job", "exp", "name", "codec", "rate", "channels"}

func hasContextParams(q url.Values) bool {
	for _, k := range contextParams {
		if q.Has(k) {
			return true
		}
	}
	return false
}

// contextFromQuery builds a context message from query parameters. An
// unparseable number is kept as an invalid value so validation rejects it.
func contextFromQuery(q url.Values) clientMessage {
	m := clientMessage{
		Type:           msgContext,
		JobDescription: q.Get("job"),
		CandidateName:  q.Get("name"),
		Codec:          q.Get("codec"),
	}
	if v := strings.TrimSpace(q.Get("exp")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			n = -1
		}
		m.ExperienceYears = &n
	}
	m.SampleRate = atoiOr(q.Get("rate"), -1)
	m.Channels = atoiOr(q.Get("channels"), -1)
	return m
}

func atoiOr(s string, invalid int) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return invalid
	}
	return n
}

// wsSink writes session events as JSON text frames and audio as binary
// frames.
type wsSink struct {
	conn *websocket.Conn
}

func (k *wsSink) Send(ctx context.Context, ev session.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("server: encode event: %w", err)
	}
	return k.conn.Write(ctx, websocket.MessageText, data)
}

func (k *wsSink) SendAudio(ctx context.Context, frame []byte) error {
	return k.conn.Write(ctx, websocket.MessageBinary, frame)
}
