// Package api provides the HTTP surface of the marketplace: operation
// endpoints, registry notification webhooks and paged queries.
//
// The caller of every mutating request is taken from the X-Sender header,
// which the fronting transport sets to the authenticated sender.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/atmx/swapmarket/internal/host"
	"github.com/atmx/swapmarket/internal/market"
	"github.com/atmx/swapmarket/internal/model"
	"github.com/atmx/swapmarket/internal/store"
)

// SenderHeader carries the authenticated caller address.
const SenderHeader = "X-Sender"

// Service handles marketplace HTTP requests. Executions are serialized by
// the host; queries read the store directly.
type Service struct {
	host    *host.Host
	queries *market.Queries
}

// NewService creates a new marketplace service.
func NewService(h *host.Host, q *market.Queries) *Service {
	return &Service{host: h, queries: q}
}

// Routes mounts the marketplace endpoints on r.
func (s *Service) Routes(r chi.Router) {
	r.Post("/instantiate", s.Instantiate)

	// Listings.
	r.Get("/listings", s.ListListings)
	r.Get("/listings/count", s.ListingCount)
	r.Get("/listings/{itemID}", s.GetListing)
	r.Delete("/listings/{itemID}", s.CancelListing)
	r.Post("/listings/{itemID}/buy", s.Buy)

	// Offers.
	r.Post("/listings/{itemID}/offers", s.CreateOffer)
	r.Delete("/listings/{itemID}/offers", s.CancelOffer)
	r.Post("/listings/{itemID}/offers/{offerer}/accept", s.AcceptOffer)
	r.Post("/listings/{itemID}/offers/{offerer}/reject", s.RejectOffer)
	r.Get("/offers", s.ListOffers)
	r.Get("/offers/{itemID}/{offerer}", s.GetOffer)

	// Trades.
	r.Post("/listings/{itemID}/trades/{trader}/accept", s.AcceptTrade)
	r.Delete("/listings/{itemID}/trades", s.CancelTrade)
	r.Get("/trades", s.ListTrades)
	r.Get("/trades/{itemID}/{trader}", s.GetTrade)

	// Registry webhooks.
	r.Post("/receive/item", s.ReceiveItem)
	r.Post("/receive/tokens", s.ReceiveTokens)
	r.Post("/confirmations", s.Confirm)
}

// --- Request types ---

// InstantiateRequest is the JSON body for POST /instantiate.
type InstantiateRequest struct {
	ItemRegistry  model.Address `json:"item_registry"`
	TokenRegistry model.Address `json:"token_registry"`
}

// BuyRequest is the JSON body for POST /listings/{itemID}/buy.
type BuyRequest struct {
	Funds []model.Coin `json:"funds"`
}

// OfferRequest is the JSON body for POST /listings/{itemID}/offers.
type OfferRequest struct {
	OfferedPrice decimal.Decimal `json:"offered_price"`
	Funds        []model.Coin    `json:"funds"`
}

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Error   string           `json:"error"`
	Message string           `json:"message,omitempty"`
	Price   *decimal.Decimal `json:"price,omitempty"` // set for incorrect_payment
}

// CountResponse is the JSON body for GET /listings/count.
type CountResponse struct {
	Count uint64 `json:"count"`
}

// --- Operations ---

// Instantiate handles POST /api/v1/instantiate
func (s *Service) Instantiate(w http.ResponseWriter, r *http.Request) {
	sender, ok := requireSender(w, r)
	if !ok {
		return
	}
	var req InstantiateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	rec, err := s.host.Instantiate(r.Context(), market.Info{Sender: sender}, req.ItemRegistry, req.TokenRegistry)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// Buy handles POST /api/v1/listings/{itemID}/buy
func (s *Service) Buy(w http.ResponseWriter, r *http.Request) {
	sender, ok := requireSender(w, r)
	if !ok {
		return
	}
	var req BuyRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if !validFunds(w, req.Funds) {
		return
	}
	rec, err := s.host.Buy(r.Context(), market.Info{Sender: sender, Funds: req.Funds}, chi.URLParam(r, "itemID"))
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// CancelListing handles DELETE /api/v1/listings/{itemID}
func (s *Service) CancelListing(w http.ResponseWriter, r *http.Request) {
	sender, ok := requireSender(w, r)
	if !ok {
		return
	}
	rec, err := s.host.CancelListing(r.Context(), market.Info{Sender: sender}, chi.URLParam(r, "itemID"))
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// CreateOffer handles POST /api/v1/listings/{itemID}/offers
func (s *Service) CreateOffer(w http.ResponseWriter, r *http.Request) {
	sender, ok := requireSender(w, r)
	if !ok {
		return
	}
	var req OfferRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if !validFunds(w, req.Funds) {
		return
	}
	if err := model.ValidateAmount(req.OfferedPrice); err != nil {
		writeOpError(w, err)
		return
	}
	info := market.Info{Sender: sender, Funds: req.Funds}
	rec, err := s.host.Offer(r.Context(), info, chi.URLParam(r, "itemID"), req.OfferedPrice)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// CancelOffer handles DELETE /api/v1/listings/{itemID}/offers
func (s *Service) CancelOffer(w http.ResponseWriter, r *http.Request) {
	sender, ok := requireSender(w, r)
	if !ok {
		return
	}
	rec, err := s.host.CancelOffer(r.Context(), market.Info{Sender: sender}, chi.URLParam(r, "itemID"))
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// AcceptOffer handles POST /api/v1/listings/{itemID}/offers/{offerer}/accept
func (s *Service) AcceptOffer(w http.ResponseWriter, r *http.Request) {
	sender, ok := requireSender(w, r)
	if !ok {
		return
	}
	offerer := model.Address(chi.URLParam(r, "offerer"))
	rec, err := s.host.AcceptOffer(r.Context(), market.Info{Sender: sender}, chi.URLParam(r, "itemID"), offerer)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// RejectOffer handles POST /api/v1/listings/{itemID}/offers/{offerer}/reject
func (s *Service) RejectOffer(w http.ResponseWriter, r *http.Request) {
	sender, ok := requireSender(w, r)
	if !ok {
		return
	}
	offerer := model.Address(chi.URLParam(r, "offerer"))
	rec, err := s.host.RejectOffer(r.Context(), market.Info{Sender: sender}, chi.URLParam(r, "itemID"), offerer)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// AcceptTrade handles POST /api/v1/listings/{itemID}/trades/{trader}/accept
func (s *Service) AcceptTrade(w http.ResponseWriter, r *http.Request) {
	sender, ok := requireSender(w, r)
	if !ok {
		return
	}
	trader := model.Address(chi.URLParam(r, "trader"))
	rec, err := s.host.AcceptTrade(r.Context(), market.Info{Sender: sender}, chi.URLParam(r, "itemID"), trader)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// CancelTrade handles DELETE /api/v1/listings/{itemID}/trades
func (s *Service) CancelTrade(w http.ResponseWriter, r *http.Request) {
	sender, ok := requireSender(w, r)
	if !ok {
		return
	}
	rec, err := s.host.CancelTrade(r.Context(), market.Info{Sender: sender}, chi.URLParam(r, "itemID"))
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// --- Registry webhooks ---

// ReceiveItem handles POST /api/v1/receive/item. The sender must be the
// configured item registry.
func (s *Service) ReceiveItem(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireSender(w, r)
	if !ok {
		return
	}
	var d market.ItemDeposit
	if !decodeBody(w, r, &d) {
		return
	}
	rec, err := s.host.ReceiveItem(r.Context(), caller, d)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// ReceiveTokens handles POST /api/v1/receive/tokens. The sender must be
// the configured token registry.
func (s *Service) ReceiveTokens(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireSender(w, r)
	if !ok {
		return
	}
	var d market.TokenDeposit
	if !decodeBody(w, r, &d) {
		return
	}
	rec, err := s.host.ReceiveTokens(r.Context(), caller, d)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// Confirm handles POST /api/v1/confirmations. Only the item registry
// confirms transfers.
func (s *Service) Confirm(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireSender(w, r)
	if !ok {
		return
	}
	cfg, err := s.queries.Config(r.Context())
	if err != nil {
		writeOpError(w, err)
		return
	}
	if caller != cfg.ItemRegistry {
		writeOpError(w, model.ErrUnauthorized)
		return
	}
	var c market.Confirmation
	if !decodeBody(w, r, &c) {
		return
	}
	rec, err := s.host.Confirm(r.Context(), c)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// --- Queries ---

// GetListing handles GET /api/v1/listings/{itemID}
func (s *Service) GetListing(w http.ResponseWriter, r *http.Request) {
	l, err := s.queries.GetListing(r.Context(), chi.URLParam(r, "itemID"))
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

// ListingCount handles GET /api/v1/listings/count
func (s *Service) ListingCount(w http.ResponseWriter, r *http.Request) {
	n, err := s.queries.ListingCount(r.Context())
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, CountResponse{Count: n})
}

// ListListings handles GET /api/v1/listings[?seller=]
func (s *Service) ListListings(w http.ResponseWriter, r *http.Request) {
	page, ok := parsePage(w, r)
	if !ok {
		return
	}
	var (
		out []model.Listing
		err error
	)
	if seller := r.URL.Query().Get("seller"); seller != "" {
		out, err = s.queries.ListingsBySeller(r.Context(), model.Address(seller), page)
	} else {
		out, err = s.queries.AllListings(r.Context(), page)
	}
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(out))
}

// GetTrade handles GET /api/v1/trades/{itemID}/{trader}
func (s *Service) GetTrade(w http.ResponseWriter, r *http.Request) {
	t, err := s.queries.GetTrade(r.Context(), chi.URLParam(r, "itemID"), model.Address(chi.URLParam(r, "trader")))
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// ListTrades handles GET /api/v1/trades[?address=|?item=]
func (s *Service) ListTrades(w http.ResponseWriter, r *http.Request) {
	page, ok := parsePage(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	var (
		out []model.Trade
		err error
	)
	switch {
	case q.Get("address") != "" && q.Get("item") != "":
		writeError(w, "bad_request", "address and item filters are exclusive", http.StatusBadRequest)
		return
	case q.Get("address") != "":
		out, err = s.queries.TradesByAddress(r.Context(), model.Address(q.Get("address")), page)
	case q.Get("item") != "":
		out, err = s.queries.TradesByItem(r.Context(), q.Get("item"), page)
	default:
		out, err = s.queries.AllTrades(r.Context(), page)
	}
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(out))
}

// GetOffer handles GET /api/v1/offers/{itemID}/{offerer}
func (s *Service) GetOffer(w http.ResponseWriter, r *http.Request) {
	o, err := s.queries.GetOffer(r.Context(), chi.URLParam(r, "itemID"), model.Address(chi.URLParam(r, "offerer")))
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// ListOffers handles GET /api/v1/offers[?address=|?item=]
func (s *Service) ListOffers(w http.ResponseWriter, r *http.Request) {
	page, ok := parsePage(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	var (
		out []model.Offer
		err error
	)
	switch {
	case q.Get("address") != "" && q.Get("item") != "":
		writeError(w, "bad_request", "address and item filters are exclusive", http.StatusBadRequest)
		return
	case q.Get("address") != "":
		out, err = s.queries.OffersByAddress(r.Context(), model.Address(q.Get("address")), page)
	case q.Get("item") != "":
		out, err = s.queries.OffersByItem(r.Context(), q.Get("item"), page)
	default:
		out, err = s.queries.AllOffers(r.Context(), page)
	}
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(out))
}

// --- Helpers ---

func requireSender(w http.ResponseWriter, r *http.Request) (model.Address, bool) {
	sender := r.Header.Get(SenderHeader)
	if sender == "" {
		writeError(w, "unauthenticated", "missing "+SenderHeader+" header", http.StatusUnauthorized)
		return "", false
	}
	return model.Address(sender), true
}

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, "bad_request", "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

func validFunds(w http.ResponseWriter, funds []model.Coin) bool {
	for _, c := range funds {
		if err := model.ValidateAmount(c.Amount); err != nil {
			writeOpError(w, err)
			return false
		}
	}
	return true
}

func parsePage(w http.ResponseWriter, r *http.Request) (store.Page, bool) {
	var page store.Page
	q := r.URL.Query()
	for _, f := range []struct {
		name string
		dst  *uint64
	}{{"from_index", &page.FromIndex}, {"limit", &page.Limit}} {
		raw := q.Get(f.name)
		if raw == "" {
			continue
		}
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, "bad_request", f.name+" must be an unsigned integer", http.StatusBadRequest)
			return store.Page{}, false
		}
		*f.dst = n
	}
	return page, true
}

func nonNil[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}

// writeOpError maps an operation error to its status and tag.
func writeOpError(w http.ResponseWriter, err error) {
	var (
		tag    string
		status int
	)
	switch {
	case errors.Is(err, model.ErrDispatch):
		tag, status = "dispatch_failed", http.StatusBadGateway
	case errors.Is(err, model.ErrNotFound):
		tag, status = "not_found", http.StatusNotFound
	case errors.Is(err, model.ErrUnauthorized):
		tag, status = "unauthorized", http.StatusForbidden
	case errors.Is(err, model.ErrIncorrectPayment):
		tag, status = "incorrect_payment", http.StatusBadRequest
	case errors.Is(err, model.ErrNonTradeable):
		tag, status = "non_tradeable", http.StatusConflict
	case errors.Is(err, model.ErrTypeNotSupported):
		tag, status = "type_not_supported", http.StatusBadRequest
	case errors.Is(err, model.ErrInvalidPayload):
		tag, status = "invalid_payload", http.StatusBadRequest
	case errors.Is(err, model.ErrInvalidAmount):
		tag, status = "invalid_amount", http.StatusBadRequest
	case errors.Is(err, model.ErrUnrecognizedConfirmation):
		tag, status = "unrecognized_confirmation", http.StatusUnprocessableEntity
	case errors.Is(err, model.ErrConfigExists):
		tag, status = "config_exists", http.StatusConflict
	case errors.Is(err, model.ErrOverflow):
		tag, status = "overflow", http.StatusInternalServerError
	case errors.Is(err, model.ErrUnderflow):
		tag, status = "underflow", http.StatusInternalServerError
	default:
		writeError(w, "internal", "internal error", http.StatusInternalServerError)
		return
	}

	resp := ErrorResponse{Error: tag, Message: err.Error()}
	var ipe *model.IncorrectPaymentError
	if errors.As(err, &ipe) {
		resp.Price = &ipe.Price
	}
	writeJSON(w, status, resp)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, tag, message string, status int) {
	writeJSON(w, status, ErrorResponse{Error: tag, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
