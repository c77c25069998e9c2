package server

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cloudmeeting/orderhub/pkg/model"
	"github.com/cloudmeeting/orderhub/pkg/protocol"
	"github.com/cloudmeeting/orderhub/pkg/protocol/events"
	"github.com/cloudmeeting/orderhub/pkg/rbac"
	"github.com/cloudmeeting/orderhub/pkg/store"
)

// OrderBook holds every work order. All state changes go through one lock,
// so two accepts on the same order can never both observe it open.
type OrderBook struct {
	mu     sync.Mutex
	orders map[string]*model.WorkOrder
	st     store.DataStore
	now    func() time.Time
	newID  func() string
	saver  persister
}

// NewOrderBook creates an empty book backed by st.
func NewOrderBook(st store.DataStore, now func() time.Time, newID func() string, metrics *Metrics) *OrderBook {
	return &OrderBook{
		orders: make(map[string]*model.WorkOrder),
		st:     st,
		now:    now,
		newID:  newID,
		saver:  persister{doc: "workorders", metrics: metrics},
	}
}

// Load replaces the book contents with the stored document.
func (b *OrderBook) Load() error {
	orders, err := b.st.LoadOrders()
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.orders = make(map[string]*model.WorkOrder, len(orders))
	for i := range orders {
		o := orders[i]
		b.orders[o.ID] = &o
	}
	return nil
}

// Count returns the number of orders.
func (b *OrderBook) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.orders)
}

// Get returns a copy of the order with id.
func (b *OrderBook) Get(id string) (model.WorkOrder, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.orders[id]
	if !ok {
		return model.WorkOrder{}, false
	}
	return *o, true
}

// All returns every order ordered by creation time.
func (b *OrderBook) All() []model.WorkOrder {
	b.mu.Lock()
	orders := make([]model.WorkOrder, 0, len(b.orders))
	for _, o := range b.orders {
		orders = append(orders, *o)
	}
	b.mu.Unlock()
	store.SortOrders(orders)
	return orders
}

// List returns the orders visible to username: a requester sees what they
// created, a specialist sees open orders and those assigned to them.
func (b *OrderBook) List(username string, role model.Role) []model.WorkOrder {
	browse := rbac.HasPermission(role, rbac.PermViewOpenOrders)
	all := b.All()
	visible := make([]model.WorkOrder, 0, len(all))
	for i := range all {
		if all[i].VisibleTo(username, browse) {
			visible = append(visible, all[i])
		}
	}
	return visible
}

// Create opens a new order on behalf of creator.
func (b *OrderBook) Create(creator, title, description string) (model.WorkOrder, error) {
	o := model.NewWorkOrder(b.newID(), title, description, creator, b.now())
	if err := o.Validate(); err != nil {
		return model.WorkOrder{}, err
	}

	b.mu.Lock()
	if _, exists := b.orders[o.ID]; exists {
		b.mu.Unlock()
		return model.WorkOrder{}, fmt.Errorf("order id %s already in use", o.ID)
	}
	b.orders[o.ID] = o
	created := *o
	b.mu.Unlock()

	b.save()
	return created, nil
}

// Accept assigns an open order to specialist.
func (b *OrderBook) Accept(id, specialist string) (model.WorkOrder, error) {
	return b.update(id, func(o *model.WorkOrder) (bool, error) {
		return true, o.Accept(specialist, b.now())
	})
}

// ChangeStatus applies a status change requested by actor.
func (b *OrderBook) ChangeStatus(id, actor, status string) (model.WorkOrder, error) {
	to, err := model.ParseStatus(status)
	if err != nil {
		return model.WorkOrder{}, err
	}
	return b.update(id, func(o *model.WorkOrder) (bool, error) {
		return true, o.ChangeStatus(actor, to, b.now())
	})
}

// Start moves an assigned order to in_progress. changed is false when the
// order was in any other state.
func (b *OrderBook) Start(id string) (o model.WorkOrder, changed bool, err error) {
	o, err = b.update(id, func(wo *model.WorkOrder) (bool, error) {
		changed = wo.Start(b.now())
		return changed, nil
	})
	return o, changed, err
}

// update applies fn under the book lock and persists if fn reports a change.
func (b *OrderBook) update(id string, fn func(o *model.WorkOrder) (bool, error)) (model.WorkOrder, error) {
	b.mu.Lock()
	o, ok := b.orders[id]
	if !ok {
		b.mu.Unlock()
		return model.WorkOrder{}, ErrOrderNotFound
	}
	// Mutate a copy so a rejected change leaves the stored order untouched.
	next := *o
	changed, err := fn(&next)
	if err != nil {
		b.mu.Unlock()
		return model.WorkOrder{}, err
	}
	*o = next
	b.mu.Unlock()

	if changed {
		b.save()
	}
	return next, nil
}

func (b *OrderBook) save() {
	b.saver.run(func() error { return b.st.SaveOrders(b.All()) })
}

// handleOrder dispatches ORDER requests. Replies go back as ORDER packets
// with the request's op; changes are announced to every authenticated
// connection.
func (s *Server) handleOrder(c *Conn, sess Session, p protocol.Packet) {
	var req events.OrderRequest
	if err := p.Unmarshal(&req); err != nil {
		s.sendError(c, events.KindOrder, newError(CodeBadRequest, "malformed order request"))
		return
	}

	switch req.Op {
	case events.OpCreate:
		if msg := rbac.RequirePermission(sess.Role, rbac.PermCreateOrder); msg != "" {
			s.sendError(c, events.KindOrder, newError(CodeForbidden, msg))
			return
		}
		o, err := s.orders.Create(sess.Username, req.Title, req.Description)
		if err != nil {
			s.sendError(c, events.KindOrder, toError(err))
			return
		}
		s.metrics.OrdersCreated.Add(1)
		slog.Info("order created", "order", o.ID, "user", sess.Username)
		s.send(c, protocol.TypeOrder, events.OrderReply{Op: req.Op, Order: o})
		s.broadcastOrderEvent(events.EventCreated, o)

	case events.OpList:
		orders := s.orders.List(sess.Username, sess.Role)
		s.send(c, protocol.TypeOrder, events.OrderListReply{Op: req.Op, Orders: orders})

	case events.OpAccept:
		if msg := rbac.RequirePermission(sess.Role, rbac.PermAcceptOrder); msg != "" {
			s.sendError(c, events.KindOrder, newError(CodeForbidden, msg))
			return
		}
		o, err := s.orders.Accept(req.ID, sess.Username)
		if err != nil {
			s.sendError(c, events.KindOrder, toError(err))
			return
		}
		s.metrics.OrdersAccepted.Add(1)
		slog.Info("order accepted", "order", o.ID, "user", sess.Username)
		s.send(c, protocol.TypeOrder, events.OrderReply{Op: req.Op, Order: o})
		s.broadcastOrderEvent(events.EventAccepted, o)

	case events.OpStatus:
		if to, err := model.ParseStatus(req.Status); err == nil && to.Terminal() {
			if msg := rbac.RequirePermission(sess.Role, rbac.PermCloseOrder); msg != "" {
				s.sendError(c, events.KindOrder, newError(CodeForbidden, msg))
				return
			}
		}
		o, err := s.orders.ChangeStatus(req.ID, sess.Username, req.Status)
		if err != nil {
			s.sendError(c, events.KindOrder, toError(err))
			return
		}
		s.metrics.OrderUpdates.Add(1)
		slog.Info("order status changed", "order", o.ID, "status", o.Status, "user", sess.Username)
		s.send(c, protocol.TypeOrder, events.OrderReply{Op: req.Op, Order: o})
		s.broadcastOrderEvent(events.EventUpdated, o)

	default:
		s.sendError(c, events.KindOrder, newError(CodeBadRequest, fmt.Sprintf("unknown order op %q", req.Op)))
	}
}

// broadcastOrderEvent sends an order event to every authenticated connection.
func (s *Server) broadcastOrderEvent(event string, o model.WorkOrder) {
	frame, err := encodeEvent(protocol.TypeServerEvent, events.Order(event, o))
	if err != nil {
		slog.Error("encode order event failed", "err", err)
		return
	}
	for _, c := range s.conns.All() {
		if _, ok := s.authenticated(c); ok {
			s.sendFrame(c, frame)
		}
	}
}
