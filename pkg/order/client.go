package order

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/uhyunpark/fixsession/pkg/fix"
	"github.com/uhyunpark/fixsession/pkg/metrics"
	"github.com/uhyunpark/fixsession/pkg/report"
)

func errorf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalidOrder}, args...)...)
}

// Client issues order commands on one session and tracks a single active
// order. Commands are serialised so each one sees the previous one's ClOrdID.
type Client struct {
	sessionID string
	symbol    string
	sender    Sender
	clientIDs ClientIDSource

	IDs    IDGenerator
	Store  Store // optional
	Now    func() time.Time
	Logger *zap.SugaredLogger

	mu     sync.Mutex
	active *Order
}

func NewClient(sessionID, symbol string, sender Sender, clientIDs ClientIDSource) *Client {
	return &Client{
		sessionID: sessionID,
		symbol:    symbol,
		sender:    sender,
		clientIDs: clientIDs,
		IDs:       NewClOrdIDGenerator(),
		Now:       time.Now,
		Logger:    zap.NewNop().Sugar(),
	}
}

// Restore loads a persisted active order, if any.
func (c *Client) Restore() error {
	if c.Store == nil {
		return nil
	}
	o, err := c.Store.LoadOrder(c.sessionID)
	if err != nil {
		return fmt.Errorf("restore order: %w", err)
	}
	c.mu.Lock()
	c.active = o
	c.mu.Unlock()
	if o != nil {
		c.Logger.Infow("order_restored", "session", c.sessionID, "cl_ord_id", o.ClOrdID, "status", o.Status.String())
	}
	return nil
}

// Active returns a copy of the tracked order.
func (c *Client) Active() (Order, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return Order{}, false
	}
	return *c.active, true
}

// PlaceOrder sends a NewOrderSingle and makes it the active order. Nothing is
// sent when an error is returned.
func (c *Client) PlaceOrder(side fix.Side, price, qty decimal.Decimal, ordType fix.OrdType, tif fix.TimeInForce) (string, error) {
	if err := validate(side, price, qty, ordType, tif); err != nil {
		return "", err
	}
	clientID, ok := c.clientIDs.ClientID()
	if !ok {
		return "", ErrNoClientID
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.Now()
	o := Order{
		ClOrdID:     c.IDs.NextID(),
		Symbol:      c.symbol,
		Side:        side,
		OrdType:     ordType,
		TimeInForce: tif,
		Price:       price,
		Quantity:    qty,
		Status:      report.OrdStatusPendingNew,
		UpdatedAt:   now,
	}
	if ordType == fix.OrdTypeMarket {
		o.Price = decimal.Zero
	}
	if err := c.sender.Send(NewOrderSingle(o, clientID, now)); err != nil {
		return "", err
	}

	if c.active != nil && !c.active.Status.Terminal() {
		c.Logger.Warnw("active_order_superseded", "session", c.sessionID, "cl_ord_id", c.active.ClOrdID)
	}
	c.active = &o
	c.persist()
	metrics.OrdersSent.WithLabelValues("new").Inc()
	c.Logger.Infow("order_placed",
		"session", c.sessionID,
		"client_id", clientID,
		"cl_ord_id", o.ClOrdID,
		"side", side.String(),
		"ord_type", ordType.String(),
		"price", o.Price.String(),
		"qty", qty.String())
	return o.ClOrdID, nil
}

// CancelOrder requests cancellation of the active order.
func (c *Client) CancelOrder() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return "", ErrNoActiveOrder
	}
	clientID, ok := c.clientIDs.ClientID()
	if !ok {
		return "", ErrNoClientID
	}

	orig := c.active.ClOrdID
	id := c.IDs.NextID()
	if err := c.sender.Send(NewCancelRequest(orig, id, c.active.Symbol, c.active.Side, clientID)); err != nil {
		return "", err
	}

	c.active.prevClOrdID = orig
	c.active.ClOrdID = id
	c.active.UpdatedAt = c.Now()
	c.persist()
	metrics.OrdersSent.WithLabelValues("cancel").Inc()
	c.Logger.Infow("order_cancel_requested", "session", c.sessionID, "client_id", clientID, "orig_cl_ord_id", orig, "cl_ord_id", id)
	return id, nil
}

// ReplaceOrder sends an OrderCancelReplaceRequest with only the fields set in
// p. A replace with no fields set is sent as-is; the venue decides.
func (c *Client) ReplaceOrder(p ReplaceParams) (string, error) {
	if p.Price != nil && !p.Price.IsPositive() {
		return "", errorf("price must be positive, got %s", p.Price)
	}
	if p.Quantity != nil && !p.Quantity.IsPositive() {
		return "", errorf("quantity must be positive, got %s", p.Quantity)
	}
	if p.OrdType != nil && *p.OrdType != fix.OrdTypeLimit && *p.OrdType != fix.OrdTypeMarket {
		return "", errorf("order type %q", *p.OrdType)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return "", ErrNoActiveOrder
	}
	clientID, ok := c.clientIDs.ClientID()
	if !ok {
		return "", ErrNoClientID
	}

	orig := c.active.ClOrdID
	id := c.IDs.NextID()
	if err := c.sender.Send(NewReplaceRequest(orig, id, p, clientID)); err != nil {
		return "", err
	}

	c.active.prevClOrdID = orig
	c.active.ClOrdID = id
	if p.Price != nil {
		c.active.Price = *p.Price
	}
	if p.Quantity != nil {
		c.active.Quantity = *p.Quantity
	}
	if p.OrdType != nil {
		c.active.OrdType = *p.OrdType
	}
	c.active.UpdatedAt = c.Now()
	c.persist()
	metrics.OrdersSent.WithLabelValues("replace").Inc()
	c.Logger.Infow("order_replace_requested", "session", c.sessionID, "client_id", clientID, "orig_cl_ord_id", orig, "cl_ord_id", id)
	return id, nil
}

// OnExecutionReport updates the active order from a report addressed to it and
// stops tracking it once it reaches a terminal status.
func (c *Client) OnExecutionReport(r *report.ExecutionReport) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil || !c.matches(r.ClOrdID, r.OrigClOrdID) {
		return
	}
	c.active.Status = r.OrdStatus
	if r.OrderID != "" {
		c.active.OrderID = r.OrderID
	}
	c.active.UpdatedAt = c.Now()

	if r.OrdStatus.Terminal() {
		c.Logger.Infow("order_closed", "session", c.sessionID, "cl_ord_id", c.active.ClOrdID, "status", r.OrdStatus.String())
		c.forget()
		return
	}
	c.persist()
}

// OnCancelReject restores the ClOrdID the rejected request replaced, so the
// next command references the order that is still live.
func (c *Client) OnCancelReject(r *report.CancelReject) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil || r.ClOrdID != c.active.ClOrdID {
		return
	}
	if r.OrdStatus.Terminal() {
		c.Logger.Infow("order_closed", "session", c.sessionID, "cl_ord_id", c.active.ClOrdID, "status", r.OrdStatus.String())
		c.forget()
		return
	}
	if c.active.prevClOrdID != "" {
		c.active.ClOrdID = c.active.prevClOrdID
		c.active.prevClOrdID = ""
	}
	c.persist()
}

func (c *Client) matches(ids ...string) bool {
	for _, id := range ids {
		if id == "" {
			continue
		}
		if id == c.active.ClOrdID || id == c.active.prevClOrdID {
			return true
		}
	}
	return false
}

// forget stops tracking the active order and removes it from the store.
func (c *Client) forget() {
	c.active = nil
	if c.Store == nil {
		return
	}
	if err := c.Store.DeleteOrder(c.sessionID); err != nil {
		c.Logger.Errorw("order_store_delete_failed", "session", c.sessionID, "err", err)
	}
}

func (c *Client) persist() {
	if c.Store == nil || c.active == nil {
		return
	}
	if err := c.Store.SaveOrder(c.sessionID, *c.active); err != nil {
		c.Logger.Errorw("order_store_save_failed", "session", c.sessionID, "err", err)
	}
}
