package trade

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/binarex/option-engine/internal/metrics"
	"github.com/binarex/option-engine/internal/model"
)

// HandlePlaceOrder handles POST /api/v1/orders.
func (s *Service) HandlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		metrics.IntakeRejectionsTotal.WithLabelValues("invalid_input").Inc()
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	order, err := s.PlaceOrder(r.Context(), req)
	if err != nil {
		reason, status := rejectionOf(err)
		metrics.IntakeRejectionsTotal.WithLabelValues(reason).Inc()
		writeError(w, err.Error(), status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(order)
}

// HandleGetPrice handles GET /api/v1/symbols/{ticker}/price.
func (s *Service) HandleGetPrice(w http.ResponseWriter, r *http.Request) {
	ticker := chi.URLParam(r, "ticker")

	price, err := s.PublishedPrice(r.Context(), ticker)
	if err != nil {
		_, status := rejectionOf(err)
		writeError(w, err.Error(), status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"symbol": ticker, "price": price.String()})
}

// HandleListSymbols handles GET /api/v1/symbols.
func (s *Service) HandleListSymbols(w http.ResponseWriter, r *http.Request) {
	symbols, err := s.store.ListSymbols(r.Context())
	if err != nil {
		writeError(w, "failed to list symbols", http.StatusInternalServerError)
		return
	}
	if symbols == nil {
		symbols = []model.Symbol{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(symbols)
}

// HandleGetOrder handles GET /api/v1/orders/{orderID}.
func (s *Service) HandleGetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := s.store.FindOrder(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		_, status := rejectionOf(err)
		writeError(w, err.Error(), status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(order)
}

// HandleListUserOrders handles GET /api/v1/users/{userID}/orders.
func (s *Service) HandleListUserOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := s.store.FindOrdersByUser(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, "failed to list orders", http.StatusInternalServerError)
		return
	}
	if orders == nil {
		orders = []model.Order{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(orders)
}

// HandleGetUser handles GET /api/v1/users/{userID}.
func (s *Service) HandleGetUser(w http.ResponseWriter, r *http.Request) {
	user, err := s.store.FindUser(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		_, status := rejectionOf(err)
		writeError(w, err.Error(), status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(user)
}

// HandleListUnresolved handles GET /api/v1/orders/unresolved — the operator
// view of orders that exhausted settlement retries.
func (s *Service) HandleListUnresolved(w http.ResponseWriter, r *http.Request) {
	orders, err := s.store.FindUnresolvedOrders(r.Context())
	if err != nil {
		writeError(w, "failed to list unresolved orders", http.StatusInternalServerError)
		return
	}
	if orders == nil {
		orders = []model.Order{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(orders)
}

// rejectionOf maps a service error onto a metrics reason label and an HTTP
// status. Unrecognized errors are internal.
func rejectionOf(err error) (string, int) {
	switch {
	case errors.Is(err, model.ErrInvalidInput):
		return "invalid_input", http.StatusBadRequest
	case errors.Is(err, model.ErrInsufficientBalance):
		return "insufficient_balance", http.StatusConflict
	case errors.Is(err, model.ErrUnknownUser):
		return "unknown_user", http.StatusNotFound
	case errors.Is(err, model.ErrUnknownSymbol):
		return "unknown_symbol", http.StatusNotFound
	case errors.Is(err, model.ErrUnknownOrder):
		return "unknown_order", http.StatusNotFound
	case errors.Is(err, model.ErrPriceUnavailable):
		return "price_unavailable", http.StatusNotFound
	default:
		return "internal", http.StatusInternalServerError
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
