package netinfo

import (
	"github.com/gin-gonic/gin"

	"github.com/couchparty/backend/pkg/response"
)

// Handler exposes the public address over HTTP.
type Handler struct {
	resolver *Resolver
	port     string
}

// NewHandler creates the /api/get_ip handler.
func NewHandler(resolver *Resolver, port string) *Handler {
	return &Handler{resolver: resolver, port: port}
}

// GetIP reports the public IP and a ready-to-share invite link.
func (h *Handler) GetIP(c *gin.Context) {
	ip := h.resolver.PublicIP(c.Request.Context())
	response.OK(c, gin.H{"ip": ip, "link": InviteLink(ip, h.port)})
}
