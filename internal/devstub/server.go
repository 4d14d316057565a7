package devstub

import (
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/openscreen/voicecall/internal/handoff"
	"github.com/openscreen/voicecall/internal/token"
)

// Server is an in-process stand-in for the three remote endpoints a session
// talks to: credential issuance, the duplex stream and the transcript sink.
// It exists for local development and integration tests; the scripted stream
// simply mirrors text turns back as remote speech.
type Server struct {
	e *echo.Echo

	// OnTranscript, when set, is called for every payload the sink accepts,
	// e.g. to forward it to an archive. Invoked off the request path.
	OnTranscript func(p handoff.Payload)

	mu          sync.Mutex
	issued      map[string]time.Time
	transcripts []handoff.Payload
	audioFrames int
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func New() *Server {
	s := &Server{issued: make(map[string]time.Time)}
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.POST("/token", s.handleToken)
	e.POST("/transcripts", s.handleTranscript)
	e.GET("/stream", s.handleStream)

	s.e = e
	return s
}

// Handler exposes the router for httptest and embedding.
func (s *Server) Handler() http.Handler { return s.e }

// Start serves on addr until Shutdown.
func (s *Server) Start(addr string) error { return s.e.Start(addr) }

// Transcripts returns every payload delivered to the sink so far.
func (s *Server) Transcripts() []handoff.Payload {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]handoff.Payload, len(s.transcripts))
	copy(out, s.transcripts)
	return out
}

// AudioFrameCount reports how many audio frames streams have received.
func (s *Server) AudioFrameCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audioFrames
}

func (s *Server) handleToken(c echo.Context) error {
	var req token.Request
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
	}
	cred := token.Credential{
		Token:     uuid.NewString(),
		ExpiresAt: time.Now().Add(time.Minute),
	}
	s.mu.Lock()
	s.issued[cred.Token] = cred.ExpiresAt
	s.mu.Unlock()
	log.Printf("devstub: issued credential for session %s", req.SessionID)
	return c.JSON(http.StatusOK, cred)
}

func (s *Server) handleTranscript(c echo.Context) error {
	var p handoff.Payload
	if err := c.Bind(&p); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid payload"})
	}
	s.mu.Lock()
	s.transcripts = append(s.transcripts, p)
	s.mu.Unlock()
	log.Printf("devstub: stored transcript for session %s (%d messages)", p.SessionID, len(p.Transcript))
	if s.OnTranscript != nil {
		go s.OnTranscript(p)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "stored"})
}

// envelope mirrors the duplex stream wire format.
type envelope struct {
	Type  string `json:"type"`
	Role  string `json:"role,omitempty"`
	Text  string `json:"text,omitempty"`
	Audio []byte `json:"audio,omitempty"`
	Error string `json:"error,omitempty"`
}

func (s *Server) handleStream(c echo.Context) error {
	if !s.credentialOK(c.Request()) {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid credential"})
	}
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := conn.WriteJSON(envelope{Type: "opened"}); err != nil {
		return nil
	}
	for {
		var env envelope
		if err := conn.ReadJSON(&env); err != nil {
			return nil
		}
		switch env.Type {
		case "audio":
			s.mu.Lock()
			s.audioFrames++
			s.mu.Unlock()
		case "text":
			reply := "You said: " + env.Text
			script := []envelope{
				{Type: "final_transcript", Role: "local", Text: env.Text},
				{Type: "partial_transcript", Role: "remote", Text: reply[:len(reply)/2]},
				{Type: "final_transcript", Role: "remote", Text: reply},
				{Type: "audio", Audio: []byte{0xde, 0xad, 0xbe, 0xef}},
				{Type: "turn_complete", Role: "remote"},
			}
			for _, out := range script {
				if err := conn.WriteJSON(out); err != nil {
					return nil
				}
			}
		}
	}
}

// credentialOK accepts any credential previously issued by this stub and not
// yet expired.
func (s *Server) credentialOK(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	if len(auth) < 7 || !strings.EqualFold(auth[:7], "Bearer ") {
		return false
	}
	cred := auth[7:]
	s.mu.Lock()
	defer s.mu.Unlock()
	exp, ok := s.issued[cred]
	return ok && time.Now().Before(exp)
}
