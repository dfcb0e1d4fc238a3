package api

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"hotel-rates/internal/models"
	"hotel-rates/internal/services/auth"
	"hotel-rates/internal/services/poller"
	"hotel-rates/internal/services/pricing"
	"hotel-rates/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/xuri/excelize/v2"
)

type APIHandler struct {
	store    storage.SnapshotStore
	rates    *pricing.Client
	poller   *poller.Poller
	keycloak *auth.KeycloakClient
	sessions *auth.Sessions
	secure   bool
	upgrader websocket.Upgrader
}

func SetupRoutes(r *gin.RouterGroup, store storage.SnapshotStore, rates *pricing.Client, p *poller.Poller, kc *auth.KeycloakClient, sessions *auth.Sessions, production bool) *APIHandler {
	handler := &APIHandler{
		store:    store,
		rates:    rates,
		poller:   p,
		keycloak: kc,
		sessions: sessions,
		secure:   production,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(_ *http.Request) bool { return true },
		},
	}

	// Login and logout are the only routes reachable without a session
	authGroup := r.Group("/auth")
	{
		authGroup.POST("/login", handler.Login)
		authGroup.POST("/logout", handler.Logout)
	}

	gated := r.Group("", auth.Middleware(sessions))
	{
		gated.GET("/auth/me", handler.GetCurrentUser)
		gated.GET("/hotels", handler.ListHotels)

		// Single rate query, passthrough of the provider's reply
		gated.GET("/rooms", handler.GetRooms)

		// Snapshot read/write/export
		gated.GET("/prices", handler.GetPrices)
		gated.POST("/prices", handler.SavePrices)
		gated.GET("/prices/export", handler.ExportPrices)

		// Poll job control
		gated.POST("/poll/start", handler.StartPoll)
		gated.POST("/poll/stop", handler.StopPoll)
		gated.GET("/poll/status", handler.PollStatus)
		gated.GET("/poll/ws", handler.PollEvents)
	}

	return handler
}

// Auth handlers

func (h *APIHandler) Login(c *gin.Context) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Username == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing credentials"})
		return
	}

	identity, err := h.keycloak.Authenticate(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		var unreachable *auth.ErrUnreachable
		if errors.As(err, &unreachable) {
			c.JSON(http.StatusBadGateway, gin.H{"error": "Keycloak unreachable"})
			return
		}
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}

	token, err := h.sessions.Issue(identity)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	auth.SetCookie(c, token, h.secure)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *APIHandler) Logout(c *gin.Context) {
	auth.ClearCookie(c)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *APIHandler) GetCurrentUser(c *gin.Context) {
	user, ok := auth.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
		return
	}
	c.JSON(http.StatusOK, user)
}

// Static hotel config

func (h *APIHandler) ListHotels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"hotels":           models.Hotels,
		"colors":           models.ChartColors,
		"currency_symbols": models.CurrencySymbols,
	})
}

// GetRooms proxies one rate query to the provider and passes the reply
// through verbatim, status code included.
func (h *APIHandler) GetRooms(c *gin.Context) {
	hotelID := c.Query("hotel_id")
	arrival := c.Query("arrival_date")
	departure := c.Query("departure_date")
	if hotelID == "" || arrival == "" || departure == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing required params: hotel_id, arrival_date, departure_date"})
		return
	}

	resp, err := h.rates.FetchRooms(c.Request.Context(), hotelID, arrival, departure,
		c.Query("rec_guest_qty"), c.Query("currency_code"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.Data(resp.StatusCode, "application/json", resp.Body)
}

// Snapshot handlers

func (h *APIHandler) GetPrices(c *gin.Context) {
	currency := c.DefaultQuery("currency", "USD")
	adults := c.DefaultQuery("adults", "2")
	days, err := strconv.Atoi(c.DefaultQuery("days", "60"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid days"})
		return
	}
	date := c.DefaultQuery("date", models.DateKey(time.Now()))

	snapshot, err := h.store.Get(date, currency, adults, days)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"snapshot":  snapshot,
		"fromCache": snapshot != nil,
	})
}

func (h *APIHandler) SavePrices(c *gin.Context) {
	var req struct {
		Results  []models.HotelResult `json:"results"`
		Currency string               `json:"currency"`
		Adults   string               `json:"adults"`
		Days     int                  `json:"days"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	fetchedBy := "unknown"
	if user, ok := auth.CurrentUser(c); ok && user.Email != "" {
		fetchedBy = user.Email
	}

	snapshot, err := h.store.Put(req.Results, req.Currency, req.Adults, req.Days, fetchedBy)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, snapshot)
}

// ExportPrices renders the selected snapshot as an Excel workbook: one row
// per check-in date, one column per hotel.
func (h *APIHandler) ExportPrices(c *gin.Context) {
	currency := c.DefaultQuery("currency", "USD")
	adults := c.DefaultQuery("adults", "2")
	days, err := strconv.Atoi(c.DefaultQuery("days", "60"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid days"})
		return
	}
	date := c.DefaultQuery("date", models.DateKey(time.Now()))

	snapshot, err := h.store.Get(date, currency, adults, days)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if snapshot == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no snapshot for the requested key"})
		return
	}

	buf, err := buildWorkbook(snapshot)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	filename := fmt.Sprintf("rates_%s_%s_%sad_%dd.xlsx", snapshot.Date, currency, adults, days)
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", buf)
}

func buildWorkbook(snapshot *models.PriceSnapshot) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Rates"
	f.SetSheetName("Sheet1", sheet)

	header := []interface{}{"Date"}
	for _, result := range snapshot.Results {
		header = append(header, result.Name)
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return nil, err
	}

	// Collect the date axis from the longest hotel row; cancelled runs can
	// leave hotels with fewer price points.
	var dates []string
	for _, result := range snapshot.Results {
		if len(result.Prices) > len(dates) {
			dates = dates[:0]
			for _, point := range result.Prices {
				dates = append(dates, point.Date)
			}
		}
	}

	for i, date := range dates {
		row := []interface{}{date}
		for _, result := range snapshot.Results {
			var cell interface{}
			for _, point := range result.Prices {
				if point.Date == date && point.Price != nil {
					cell = *point.Price
					break
				}
			}
			row = append(row, cell)
		}
		if err := f.SetSheetRow(sheet, fmt.Sprintf("A%d", i+2), &row); err != nil {
			return nil, err
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Poll job handlers

func (h *APIHandler) StartPoll(c *gin.Context) {
	var params models.FetchParams
	_ = c.ShouldBindJSON(&params)
	if params.Currency == "" {
		params.Currency = "USD"
	}
	if params.Adults == "" {
		params.Adults = "2"
	}
	if params.Days <= 0 {
		params.Days = 60
	}

	fetchedBy := "unknown"
	if user, ok := auth.CurrentUser(c); ok && user.Email != "" {
		fetchedBy = user.Email
	}

	status, err := h.poller.Start(params, fetchedBy)
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "status": h.poller.Status()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"msg": "started", "status": status})
}

func (h *APIHandler) StopPoll(c *gin.Context) {
	if !h.poller.Cancel() {
		c.JSON(http.StatusOK, gin.H{"msg": "no running poll"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"msg": "stopping"})
}

func (h *APIHandler) PollStatus(c *gin.Context) {
	status := h.poller.Status()
	if status == nil {
		c.JSON(http.StatusOK, gin.H{"status": gin.H{"running": false}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": status})
}

// PollEvents streams progress events over a websocket until the client
// disconnects.
func (h *APIHandler) PollEvents(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	events := h.poller.Subscribe()
	defer h.poller.Unsubscribe(events)

	// Reads are discarded; the read pump only notices the client going away.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				log.Printf("[API] Websocket write failed: %v", err)
				return
			}
		}
	}
}
