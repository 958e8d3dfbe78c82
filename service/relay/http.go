package relay

import (
	"embed"
	"net/http"
	"sort"

	"PRelay/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

//go:embed static/index.html
var staticFS embed.FS

type RoomStat struct {
	Room    string `json:"room"`
	Members int    `json:"members"`
}

type Stats struct {
	Connections int            `json:"connections"`
	ByTransport map[string]int `json:"byTransport"`
	Rooms       []RoomStat     `json:"rooms"`
}

// Routes mounts the relay endpoint and its companions on r.
func (s *Server) Routes(r gin.IRouter) {
	r.GET("/health", s.HandleHealth)
	r.GET("/", s.HandleIndex)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))

	// auth stays inside the handlers: it is checked per transport and counted
	browser := middleware.RouteOpt{Browser: true, Origins: s.origins}
	for _, path := range []string{"/relay", "/relay/:room"} {
		middleware.GET(r, path, s.HandleEndpoint, browser)
		middleware.POST(r, path, s.HandleEndpoint, browser)
		middleware.DELETE(r, path, s.HandleEndpoint, browser)
		middleware.Preflight(r, path, browser)
	}

	middleware.GET(r, "/rooms", s.HandleRooms, middleware.RouteOpt{IsAuth: true, Gate: s.gate})
}

// HandleEndpoint picks the transport for one request to the relay endpoint.
func (s *Server) HandleEndpoint(c *gin.Context) {
	if c.Query("transport") == TransportPolling {
		s.HandlePoll(c)
		return
	}
	s.HandleWS(c)
}

func (s *Server) HandleHealth(c *gin.Context) {
	c.String(http.StatusOK, "OK")
}

func (s *Server) HandleIndex(c *gin.Context) {
	page, err := staticFS.ReadFile("static/index.html")
	if err != nil {
		c.Status(http.StatusNotFound)
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", page)
}

func (s *Server) HandleRooms(c *gin.Context) {
	c.JSON(http.StatusOK, s.Stats())
}

func (s *Server) Stats() Stats {
	rooms := s.rooms.Rooms()
	out := Stats{
		Connections: s.conns.Count(),
		ByTransport: s.conns.CountByTransport(),
		Rooms:       make([]RoomStat, 0, len(rooms)),
	}
	for name, n := range rooms {
		out.Rooms = append(out.Rooms, RoomStat{Room: name, Members: n})
	}
	sort.Slice(out.Rooms, func(i, j int) bool { return out.Rooms[i].Room < out.Rooms[j].Room })
	return out
}

// handshakeRoom reads the room a client asks to join at connect time.
func handshakeRoom(c *gin.Context) string {
	if room := c.Param("room"); room != "" {
		return room
	}
	if room := c.Query("room"); room != "" {
		return room
	}
	return c.Query("instance")
}
