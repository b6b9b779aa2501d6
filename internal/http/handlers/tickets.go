package handlers

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	"ticket-delivery/internal/delivery"
	"ticket-delivery/internal/domain"
	"ticket-delivery/internal/infra/logging"
)

// DeliverBody is the JSON accepted by POST /v1/tickets/deliver.
type DeliverBody struct {
	Items        []domain.OrderItem `json:"items"`
	Mode         string             `json:"mode"`
	OrderNumber  *string            `json:"order_number"`
	CustomerName *string            `json:"customer_name"`
}

// TicketService exposes a delivery.Client over HTTP.
type TicketService struct {
	Delivery *delivery.Client
	// DefaultToken is forwarded to the Document Service when the caller sends none.
	DefaultToken string
}

func NewTicketService(d *delivery.Client, defaultToken string) *TicketService {
	return &TicketService{Delivery: d, DefaultToken: defaultToken}
}

func (s *TicketService) token(c *fiber.Ctx) string {
	auth := c.Get(fiber.HeaderAuthorization)
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return s.DefaultToken
}

// HandleDeliver renders a ticket and delivers it on this host.
func (s *TicketService) HandleDeliver(c *fiber.Ctx) error {
	var body DeliverBody
	if err := json.Unmarshal(c.Body(), &body); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid JSON body: "+err.Error())
	}

	out, err := s.Delivery.Deliver(c.UserContext(), delivery.Request{
		Items:        body.Items,
		Mode:         domain.Mode(body.Mode),
		OrderNumber:  body.OrderNumber,
		CustomerName: body.CustomerName,
		AuthToken:    s.token(c),
	})
	if err != nil {
		return deliveryError(c, err)
	}
	return c.JSON(out)
}

// deliveryError maps delivery failures onto HTTP statuses.
func deliveryError(c *fiber.Ctx, err error) error {
	var (
		setupErr  *domain.RequestSetupError
		serverErr *domain.ServerError
		netErr    *domain.NetworkError
	)
	switch {
	case errors.As(err, &setupErr):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.As(err, &serverErr):
		logging.Warn("Document service rejected ticket", "status", serverErr.Status)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": fiber.Map{
				"code":            fiber.StatusBadGateway,
				"message":         "document service error",
				"upstream_status": serverErr.Status,
				"upstream_body":   string(serverErr.Body),
			},
		})
	case errors.As(err, &netErr):
		return fiber.NewError(fiber.StatusGatewayTimeout, err.Error())
	default:
		logging.Error("Ticket delivery failed", "error", err)
		return fiber.NewError(fiber.StatusInternalServerError, "ticket delivery failed: "+err.Error())
	}
}

// HandleSurface describes the active presentation surface.
func (s *TicketService) HandleSurface(c *fiber.Ctx) error {
	opts := s.Delivery.Options()
	return c.JSON(fiber.Map{
		"surface":        s.Delivery.SurfaceName(),
		"print_grace_ms": opts.PrintGrace.Milliseconds(),
		"download_dir":   opts.DownloadDir,
	})
}
