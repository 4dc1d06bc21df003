package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/layer-3/dair/core"
	"github.com/layer-3/dair/service"
)

// AuthHandlers contains HTTP handlers for auth endpoints
type AuthHandlers struct {
	authService *service.AuthService
}

// NewAuthHandlers creates new auth handlers
func NewAuthHandlers(authService *service.AuthService) *AuthHandlers {
	return &AuthHandlers{
		authService: authService,
	}
}

type signinRequest struct {
	PublicKey string `json:"publicKey" binding:"required"`
	Message   string `json:"message" binding:"required"`
	Signature struct {
		Data []int `json:"data" binding:"required"`
	} `json:"signature"`
}

// SignIn exchanges a signed sign-in message for a token pair
func (h *AuthHandlers) SignIn(c *gin.Context) {
	var req signinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	sig := make([]byte, len(req.Signature.Data))
	for i, v := range req.Signature.Data {
		if v < 0 || v > 255 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid signature"})
			return
		}
		sig[i] = byte(v)
	}

	accessToken, refreshToken, err := h.authService.Login(c.Request.Context(), req.PublicKey, req.Message, sig)
	if err != nil {
		statusCode := http.StatusInternalServerError
		errorMsg := "Authentication failed"

		switch {
		case errors.Is(err, core.ErrInvalidIdentity):
			statusCode = http.StatusBadRequest
			errorMsg = "Invalid public key"
		case errors.Is(err, core.ErrInvalidSignature):
			statusCode = http.StatusUnauthorized
			errorMsg = "Invalid signature"
		case errors.Is(err, core.ErrSigninReplayed):
			statusCode = http.StatusUnauthorized
			errorMsg = "Signature already used"
		}

		c.JSON(statusCode, gin.H{"error": errorMsg})
		return
	}

	h.tokens(c, accessToken, refreshToken)
}

// Refresh handles token refresh
func (h *AuthHandlers) Refresh(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	accessToken, refreshToken, err := h.authService.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		statusCode := http.StatusInternalServerError
		errorMsg := "Failed to refresh tokens"

		switch {
		case errors.Is(err, core.ErrInvalidToken):
			statusCode = http.StatusBadRequest
			errorMsg = "Invalid refresh token"
		case errors.Is(err, core.ErrTokenExpired):
			statusCode = http.StatusUnauthorized
			errorMsg = "Refresh token expired"
		case errors.Is(err, core.ErrTokenInvalidated):
			statusCode = http.StatusUnauthorized
			errorMsg = "Refresh token has been invalidated"
		}

		c.JSON(statusCode, gin.H{"error": errorMsg})
		return
	}

	h.tokens(c, accessToken, refreshToken)
}

// Logout handles session logout
func (h *AuthHandlers) Logout(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	err := h.authService.Logout(c.Request.Context(), req.RefreshToken)
	if err != nil {
		switch {
		case errors.Is(err, core.ErrTokenExpired):
			// nothing left to revoke
			c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
		case errors.Is(err, core.ErrInvalidToken):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid refresh token"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to logout"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
}

func (h *AuthHandlers) tokens(c *gin.Context, accessToken, refreshToken string) {
	c.JSON(http.StatusOK, gin.H{
		"token":         accessToken,
		"refresh_token": refreshToken,
		"token_type":    "Bearer",
		"expires_in":    int(h.authService.AccessTTL() / time.Second),
	})
}

// PlaceHandlers serve the air-quality listing and place creation
type PlaceHandlers struct {
	placeService *service.PlaceService
}

func NewPlaceHandlers(placeService *service.PlaceService) *PlaceHandlers {
	return &PlaceHandlers{placeService: placeService}
}

type airQualityResponse struct {
	AQI       *float64   `json:"aqi"`
	PM25      *float64   `json:"pm25"`
	PM10      *float64   `json:"pm10"`
	CO        *float64   `json:"co"`
	NO        *float64   `json:"no"`
	SO2       *float64   `json:"so2"`
	NH3       *float64   `json:"nh3"`
	NO2       *float64   `json:"no2"`
	O3        *float64   `json:"o3"`
	Status    core.Level `json:"status"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

type placeResponse struct {
	ID                string             `json:"id"`
	PlaceName         string             `json:"placeName"`
	Latitude          *float64           `json:"latitude"`
	Longitude         *float64           `json:"longitude"`
	AirQuality        airQualityResponse `json:"airQuality"`
	State             core.Status        `json:"state"`
	ValidatorFetching bool               `json:"validatorFetching"`
}

func toPlaceResponse(p core.PlaceRecord) placeResponse {
	m := p.AirQuality
	resp := placeResponse{
		ID:        p.ID,
		PlaceName: p.Name,
		AirQuality: airQualityResponse{
			AQI:       toFloat(m.AQI.Valid, m.AQI.Decimal.InexactFloat64()),
			PM25:      toFloat(m.PM25.Valid, m.PM25.Decimal.InexactFloat64()),
			PM10:      toFloat(m.PM10.Valid, m.PM10.Decimal.InexactFloat64()),
			CO:        toFloat(m.CO.Valid, m.CO.Decimal.InexactFloat64()),
			NO:        toFloat(m.NO.Valid, m.NO.Decimal.InexactFloat64()),
			SO2:       toFloat(m.SO2.Valid, m.SO2.Decimal.InexactFloat64()),
			NH3:       toFloat(m.NH3.Valid, m.NH3.Decimal.InexactFloat64()),
			NO2:       toFloat(m.NO2.Valid, m.NO2.Decimal.InexactFloat64()),
			O3:        toFloat(m.O3.Valid, m.O3.Decimal.InexactFloat64()),
			Status:    m.Level(),
			UpdatedAt: p.UpdatedAt,
		},
		State:             p.Status,
		ValidatorFetching: p.Status == core.StatusProcessing,
	}
	if p.Coordinates != nil {
		resp.Latitude = &p.Coordinates.Lat
		resp.Longitude = &p.Coordinates.Lng
	}
	return resp
}

func toFloat(valid bool, v float64) *float64 {
	if !valid {
		return nil
	}
	return &v
}

// ListPlaces returns the caller's places with their latest measurement
func (h *PlaceHandlers) ListPlaces(c *gin.Context) {
	identity := c.MustGet(identityKey).(core.Identity)

	places, err := h.placeService.List(c.Request.Context(), identity)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list places"})
		return
	}

	out := make([]placeResponse, 0, len(places))
	for _, p := range places {
		out = append(out, toPlaceResponse(p))
	}
	c.JSON(http.StatusOK, gin.H{"places": out})
}

// CreatePlace registers a place and queues it for validation
func (h *PlaceHandlers) CreatePlace(c *gin.Context) {
	var req struct {
		PlaceName string   `json:"placeName" binding:"required"`
		Latitude  *float64 `json:"latitude"`
		Longitude *float64 `json:"longitude"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if (req.Latitude == nil) != (req.Longitude == nil) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "latitude and longitude go together"})
		return
	}

	var coords *core.Coordinates
	if req.Latitude != nil {
		coords = &core.Coordinates{Lat: *req.Latitude, Lng: *req.Longitude}
	}

	identity := c.MustGet(identityKey).(core.Identity)
	place, err := h.placeService.Create(c.Request.Context(), identity, req.PlaceName, coords)
	if err != nil {
		if errors.Is(err, core.ErrInvalidPlace) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create place"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"place": toPlaceResponse(place)})
}
