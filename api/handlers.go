/*
handlers.go - HTTP API handlers for the points ledger

PURPOSE:
  Exposes the ledger, reward redemption, pickups and the eco-store via a
  REST API. Handlers parse and validate the request, call one service
  operation and serialize the result. They hold no business rules.

ENDPOINTS:
  Balance:
    GET    /api/me/balance[?as_of=RFC3339]   Summary, or balance at an instant
    GET    /api/me/ledger[?before=RFC3339]   Entries oldest first
    GET    /api/me/dashboard                 Overview (parallel reads)

  Rewards:
    GET    /api/rewards                      Active rewards
    POST   /api/rewards/{id}/redeem          Spend points, get a code
    GET    /api/me/redemptions               Caller's codes, newest first
    POST   /api/me/redemptions/{code}/use    Mark a code used

  Pickups:
    POST   /api/pickups                      Schedule
    GET    /api/me/pickups                   Caller's pickups
    GET    /api/pickups/{id}                 Owner, driver or admin
    POST   /api/pickups/{id}/cancel          Owner
    POST   /api/pickups/{id}/start           Driver or admin
    POST   /api/pickups/{id}/complete        Driver or admin, awards points

  Eco-store:
    GET    /api/utilities[?category=]        Active items
    POST   /api/utilities/{id}/purchase      Spend points on an item
    GET    /api/me/purchases                 Caller's orders
    POST   /api/purchases/{id}/cancel        Cancel and refund
    POST   /api/purchases/{id}/delivery      Advance delivery (admin)

  Admin:
    POST   /api/admin/rewards                Add a reward
    POST   /api/admin/utilities              Add an eco-store item
    POST   /api/admin/utilities/{id}/availability
    POST   /api/admin/adjustments            Bonus or penalty entry

ERROR HANDLING:
  Errors are returned as JSON (ErrorResponse) with the status of their
  kind, see respond.go:
  - 400: Validation errors, invalid input, negative balance
  - 401/403: Missing token / wrong role
  - 404: Resource not found (also other users' records)
  - 409: Sold out, invalid state transition
  - 422: Insufficient points
  - 503: Store unavailable, with Retry-After

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/warp/wastewise/assistant"
	"github.com/warp/wastewise/auth"
	"github.com/warp/wastewise/ledger"
	"github.com/warp/wastewise/pickup"
	"github.com/warp/wastewise/rewards"
)

// recentEntries is how many ledger lines the dashboard shows.
const recentEntries = 10

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Deps are the services the API calls.
type Deps struct {
	Ledger      *ledger.Ledger
	Coordinator *rewards.Coordinator
	Catalog     *rewards.Catalog
	Shop        *rewards.Shop
	Pickups     *pickup.Service
	Tokens      *auth.Issuer
	Logger      *zap.Logger
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	ledger    *ledger.Ledger
	redeem    *rewards.Coordinator
	catalog   *rewards.Catalog
	shop      *rewards.Shop
	pickups   *pickup.Service
	tokens    *auth.Issuer
	clock     ledger.Clock
	validator *Validator
	logger    *zap.Logger
}

func NewHandler(d Deps) *Handler {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		ledger:    d.Ledger,
		redeem:    d.Coordinator,
		catalog:   d.Catalog,
		shop:      d.Shop,
		pickups:   d.Pickups,
		tokens:    d.Tokens,
		clock:     d.Ledger.Clock(),
		validator: NewValidator(),
		logger:    logger,
	}
}

// pinger is implemented by stores that can check their connection.
type pinger interface {
	Ping(ctx context.Context) error
}

// Health reports whether the store is reachable.
// GET /api/healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if p, ok := h.ledger.Store().(pinger); ok {
		if err := p.Ping(r.Context()); err != nil {
			h.writeError(w, r, ledger.WrapStore("ping", err))
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ListWasteTypes returns the rate table.
// GET /api/waste-types
func (h *Handler) ListWasteTypes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, WasteTypesResponse{WasteTypes: pickup.WasteTypes})
}

// =============================================================================
// BALANCE ENDPOINTS
// =============================================================================

// GetBalance returns the caller's summary, or the balance at as_of.
// GET /api/me/balance
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := claimsFrom(r).UserID()

	asOf, err := queryTime(r, "as_of")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if asOf != nil {
		balance, err := h.ledger.Projector().BalanceAt(ctx, userID, *asOf)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, BalanceAtDTO{UserID: userID, Balance: balance, AsOf: asOf.UTC()})
		return
	}

	summary, err := h.ledger.Projector().Summary(ctx, userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// GetLedger returns the caller's entries oldest first.
// GET /api/me/ledger
func (h *Handler) GetLedger(w http.ResponseWriter, r *http.Request) {
	userID := claimsFrom(r).UserID()

	before, err := queryTime(r, "before")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	entries, err := h.ledger.EntriesForUser(r.Context(), userID, before)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []ledger.Entry{}
	}
	writeJSON(w, http.StatusOK, LedgerResponse{UserID: userID, Entries: entries, Total: ledger.Fold(entries)})
}

// GetDashboard gathers the caller's overview. The reads are independent
// and run in parallel; the first failure cancels the rest.
// GET /api/me/dashboard
func (h *Handler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	userID := claimsFrom(r).UserID()
	now := h.clock.Now()

	var (
		summary     ledger.Summary
		entries     []ledger.Entry
		pickups     []ledger.Pickup
		redemptions []ledger.Redemption
		purchases   []ledger.Purchase
	)
	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() (err error) {
		summary, err = h.ledger.Projector().Summary(ctx, userID)
		return err
	})
	g.Go(func() (err error) {
		entries, err = h.ledger.EntriesForUser(ctx, userID, nil)
		return err
	})
	g.Go(func() (err error) {
		pickups, err = h.pickups.List(ctx, userID)
		return err
	})
	g.Go(func() (err error) {
		redemptions, err = h.redeem.ListRedemptions(ctx, userID)
		return err
	})
	g.Go(func() (err error) {
		purchases, err = h.shop.ListPurchases(ctx, userID)
		return err
	})
	if err := g.Wait(); err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := DashboardResponse{
		Summary:           summary,
		RecentEntries:     []ledger.Entry{},
		UpcomingPickups:   []ledger.Pickup{},
		CollectedKg:       decimal.Zero,
		ActiveRedemptions: []RedemptionDTO{},
		OpenPurchases:     []ledger.Purchase{},
	}
	for i := len(entries) - 1; i >= 0 && len(resp.RecentEntries) < recentEntries; i-- {
		resp.RecentEntries = append(resp.RecentEntries, entries[i])
	}
	for _, p := range pickups {
		switch p.Status {
		case ledger.PickupScheduled, ledger.PickupInProgress:
			resp.UpcomingPickups = append(resp.UpcomingPickups, p)
		case ledger.PickupCompleted:
			resp.CompletedPickups++
			if p.ActualWeightKg != nil {
				resp.CollectedKg = resp.CollectedKg.Add(*p.ActualWeightKg)
			}
		}
	}
	for _, rd := range redemptions {
		if rd.Status == ledger.RedemptionActive {
			resp.ActiveRedemptions = append(resp.ActiveRedemptions, toRedemptionDTO(rd, now))
		}
	}
	for _, p := range purchases {
		if p.DeliveryStatus != ledger.DeliveryDelivered && p.DeliveryStatus != ledger.DeliveryCancelled {
			resp.OpenPurchases = append(resp.OpenPurchases, p)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// REWARD ENDPOINTS
// =============================================================================

// ListRewards returns the active catalog.
// GET /api/rewards
func (h *Handler) ListRewards(w http.ResponseWriter, r *http.Request) {
	list, err := h.catalog.ListRewards(r.Context(), true)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	dtos := make([]RewardDTO, len(list))
	for i, rw := range list {
		dtos[i] = toRewardDTO(rw)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// RedeemReward spends the reward's points and returns the code.
// POST /api/rewards/{id}/redeem
func (h *Handler) RedeemReward(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	redemption, err := h.redeem.Redeem(r.Context(), claimsFrom(r).UserID(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRedemptionDTO(redemption, h.clock.Now()))
}

// ListRedemptions returns the caller's codes.
// GET /api/me/redemptions
func (h *Handler) ListRedemptions(w http.ResponseWriter, r *http.Request) {
	list, err := h.redeem.ListRedemptions(r.Context(), claimsFrom(r).UserID())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	now := h.clock.Now()
	dtos := make([]RedemptionDTO, len(list))
	for i, rd := range list {
		dtos[i] = toRedemptionDTO(rd, now)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// UseRedemption marks a code used.
// POST /api/me/redemptions/{code}/use
func (h *Handler) UseRedemption(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	redemption, err := h.redeem.Use(r.Context(), claimsFrom(r).UserID(), code)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRedemptionDTO(redemption, h.clock.Now()))
}

// =============================================================================
// PICKUP ENDPOINTS
// =============================================================================

// SchedulePickup books a pickup for the caller.
// POST /api/pickups
func (h *Handler) SchedulePickup(w http.ResponseWriter, r *http.Request) {
	var req SchedulePickupRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	p, err := h.pickups.Schedule(r.Context(), claimsFrom(r).UserID(), pickup.ScheduleParams{
		WasteType:           ledger.WasteType(req.WasteType),
		PickupDate:          req.PickupDate,
		Address:             req.Address,
		SpecialInstructions: req.SpecialInstructions,
		EstimatedWeightKg:   req.EstimatedWeightKg,
		Emergency:           req.Emergency,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// ListPickups returns the caller's pickups.
// GET /api/me/pickups
func (h *Handler) ListPickups(w http.ResponseWriter, r *http.Request) {
	list, err := h.pickups.List(r.Context(), claimsFrom(r).UserID())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if list == nil {
		list = []ledger.Pickup{}
	}
	writeJSON(w, http.StatusOK, list)
}

// GetPickup returns one pickup. Users only see their own.
// GET /api/pickups/{id}
func (h *Handler) GetPickup(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	p, err := h.pickups.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	claims := claimsFrom(r)
	if p.UserID != claims.UserID() && !claims.HasRole(auth.RoleDriver, auth.RoleAdmin) {
		h.writeError(w, r, &ledger.NotFoundError{Resource: "pickup", ID: id.String()})
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// CancelPickup cancels one of the caller's pickups.
// POST /api/pickups/{id}/cancel
func (h *Handler) CancelPickup(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	p, err := h.pickups.Cancel(r.Context(), claimsFrom(r).UserID(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// StartPickup assigns a driver. The caller is the driver unless the body
// names one.
// POST /api/pickups/{id}/start
func (h *Handler) StartPickup(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req StartPickupRequest
	if r.ContentLength != 0 {
		if err := h.decode(r, &req); err != nil {
			h.writeError(w, r, err)
			return
		}
	}
	driver := req.DriverID
	if driver == "" {
		driver = string(claimsFrom(r).UserID())
	}
	p, err := h.pickups.Start(r.Context(), id, driver)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// CompletePickup records the weight and awards points.
// POST /api/pickups/{id}/complete
func (h *Handler) CompletePickup(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req CompletePickupRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	p, err := h.pickups.Complete(r.Context(), id, req.ActualWeightKg, req.DriverNotes)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// =============================================================================
// ECO-STORE ENDPOINTS
// =============================================================================

// ListUtilities returns active items, optionally one category.
// GET /api/utilities
func (h *Handler) ListUtilities(w http.ResponseWriter, r *http.Request) {
	list, err := h.catalog.ListUtilities(r.Context(), true)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if category := r.URL.Query().Get("category"); category != "" {
		list = slices.DeleteFunc(list, func(u ledger.Utility) bool { return u.Category != category })
	}
	if list == nil {
		list = []ledger.Utility{}
	}
	writeJSON(w, http.StatusOK, list)
}

// PurchaseUtility spends points on an item.
// POST /api/utilities/{id}/purchase
func (h *Handler) PurchaseUtility(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req PurchaseRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	p, err := h.shop.Purchase(r.Context(), claimsFrom(r).UserID(), id, req.Quantity, req.DeliveryAddress)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// ListPurchases returns the caller's orders.
// GET /api/me/purchases
func (h *Handler) ListPurchases(w http.ResponseWriter, r *http.Request) {
	list, err := h.shop.ListPurchases(r.Context(), claimsFrom(r).UserID())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if list == nil {
		list = []ledger.Purchase{}
	}
	writeJSON(w, http.StatusOK, list)
}

// CancelPurchase cancels one of the caller's orders and refunds it.
// POST /api/purchases/{id}/cancel
func (h *Handler) CancelPurchase(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	p, err := h.shop.CancelPurchase(r.Context(), claimsFrom(r).UserID(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// AdvanceDelivery moves an order one delivery step.
// POST /api/purchases/{id}/delivery
func (h *Handler) AdvanceDelivery(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req AdvanceDeliveryRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	p, err := h.shop.AdvanceDelivery(r.Context(), id, ledger.DeliveryStatus(req.Status), req.TrackingNumber)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// =============================================================================
// ASSISTANT
// =============================================================================

// AssistantMessage answers a chat message.
// POST /api/assistant/messages
func (h *Handler) AssistantMessage(w http.ResponseWriter, r *http.Request) {
	var req AssistantRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, assistant.Reply(req.Message, h.clock.Now()))
}

// =============================================================================
// ADMIN ENDPOINTS
// =============================================================================

// CreateReward adds a reward to the catalog.
// POST /api/admin/rewards
func (h *Handler) CreateReward(w http.ResponseWriter, r *http.Request) {
	var req CreateRewardRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	reward, err := h.catalog.CreateReward(r.Context(), ledger.Reward{
		Title:          req.Title,
		Description:    req.Description,
		Type:           ledger.RewardType(req.RewardType),
		PointsRequired: ledger.Points(req.PointsRequired),
		MaxRedemptions: req.MaxRedemptions,
		ExpiryDays:     req.ExpiryDays,
		Active:         req.IsActive == nil || *req.IsActive,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRewardDTO(reward))
}

// CreateUtility adds an eco-store item.
// POST /api/admin/utilities
func (h *Handler) CreateUtility(w http.ResponseWriter, r *http.Request) {
	var req CreateUtilityRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	u, err := h.catalog.CreateUtility(r.Context(), ledger.Utility{
		Name:         req.Name,
		Description:  req.Description,
		Category:     req.Category,
		PricePoints:  ledger.Points(req.PricePoints),
		Availability: ledger.Availability(req.Availability),
		Active:       req.IsActive == nil || *req.IsActive,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

// SetAvailability changes an item's stock state.
// POST /api/admin/utilities/{id}/availability
func (h *Handler) SetAvailability(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req SetAvailabilityRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	u, err := h.catalog.SetAvailability(r.Context(), id, ledger.Availability(req.Availability))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// CreateAdjustment writes a bonus or penalty entry. A penalty that would
// take the balance below zero is refused.
// POST /api/admin/adjustments
func (h *Handler) CreateAdjustment(w http.ResponseWriter, r *http.Request) {
	var req AdjustmentRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	points := ledger.Points(req.Points)
	kind := ledger.EntryKind(req.Kind)
	if kind == ledger.EntryPenalty {
		points = -points
	}
	entry, err := h.ledger.Append(r.Context(), ledger.Entry{
		UserID:         ledger.UserID(req.UserID),
		Kind:           kind,
		Points:         points,
		Description:    req.Description,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.logger.Info("manual adjustment",
		zap.String("admin", string(claimsFrom(r).UserID())),
		zap.String("user_id", req.UserID),
		zap.String("kind", req.Kind),
		zap.Int64("points", int64(points)))
	writeJSON(w, http.StatusCreated, entry)
}

// =============================================================================
// HELPERS
// =============================================================================

func pathID(r *http.Request, name string) (uuid.UUID, error) {
	raw := chi.URLParam(r, name)
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, ledger.NewValidationError("invalid_id", "malformed id",
			ledger.FieldError{Field: name, Message: "must be a UUID"})
	}
	return id, nil
}

// queryTime parses an optional RFC 3339 query parameter.
func queryTime(r *http.Request, name string) (*time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil, ledger.NewValidationError("invalid_query", "malformed timestamp",
			ledger.FieldError{Field: name, Message: "must be RFC 3339"})
	}
	return &t, nil
}
