package realtime

import (
	"encoding/json"
)

// Client to server events.
const (
	EventOrderSubscribe        = "order:subscribe"
	EventOrderUnsubscribe      = "order:unsubscribe"
	EventRestaurantSubscribe   = "restaurant:subscribe"
	EventRestaurantUnsubscribe = "restaurant:unsubscribe"
	EventDriverLocation        = "driver:location"
	EventNotificationRead      = "notification:read"
)

// Server to client events.
const (
	EventOrderStatusUpdated       = "order:status_updated"
	EventOrderConfirmed           = "order:confirmed"
	EventOrderDriverAssigned      = "order:driver_assigned"
	EventOrderLocationUpdated     = "order:location_updated"
	EventOrderCompleted           = "order:completed"
	EventOrderCancelled           = "order:cancelled"
	EventRestaurantNewOrder       = "restaurant:new_order"
	EventRestaurantStatusChanged  = "restaurant:order_status_changed"
	EventRestaurantOrderCancelled = "restaurant:order_cancelled"
	EventRestaurantMenuUpdated    = "restaurant:menu_updated"
	EventDriverNewDelivery        = "driver:new_delivery"
	EventDriverDeliveryStatus     = "driver:delivery_status"
	EventNotificationNew          = "notification:new"
)

// Wire payloads are flat objects; timestamps are ISO-8601 strings, unlike the
// epoch-ms timestamps in the local event history.

type SubscribeOrderPayload struct {
	OrderID string `json:"orderId"`
}

type SubscribeRestaurantPayload struct {
	RestaurantID string `json:"restaurantId"`
}

type DriverLocationPayload struct {
	OrderID   string  `json:"orderId"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type NotificationReadPayload struct {
	NotificationID string `json:"notificationId"`
	Timestamp      string `json:"timestamp"`
}

type OrderStatusUpdate struct {
	OrderID   string `json:"orderId"`
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

type DriverAssigned struct {
	OrderID    string `json:"orderId"`
	DriverID   string `json:"driverId"`
	DriverName string `json:"driverName"`
	Timestamp  string `json:"timestamp"`
}

type LocationUpdate struct {
	OrderID   string  `json:"orderId"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Timestamp string  `json:"timestamp"`
}

type NewOrder struct {
	OrderID      string  `json:"orderId"`
	RestaurantID string  `json:"restaurantId"`
	Total        float64 `json:"total"`
	Timestamp    string  `json:"timestamp"`
}

type MenuUpdated struct {
	RestaurantID string `json:"restaurantId"`
	Timestamp    string `json:"timestamp"`
}

type NewDelivery struct {
	OrderID   string `json:"orderId"`
	Pickup    string `json:"pickup"`
	Dropoff   string `json:"dropoff"`
	Timestamp string `json:"timestamp"`
}

type Notification struct {
	NotificationID string `json:"notificationId"`
	Title          string `json:"title"`
	Body           string `json:"body"`
	Timestamp      string `json:"timestamp"`
}

// Typed adapters over On, one per event the presentation layer consumes.
// Decode failures are logged and the event is skipped; a malformed payload
// never tears down the connection.

func (c *Client) OnOrderStatusUpdated(handler func(OrderStatusUpdate)) func() {
	return onTyped(c, EventOrderStatusUpdated, handler)
}

func (c *Client) OnOrderDriverAssigned(handler func(DriverAssigned)) func() {
	return onTyped(c, EventOrderDriverAssigned, handler)
}

func (c *Client) OnOrderLocationUpdated(handler func(LocationUpdate)) func() {
	return onTyped(c, EventOrderLocationUpdated, handler)
}

func (c *Client) OnOrderCompleted(handler func(OrderStatusUpdate)) func() {
	return onTyped(c, EventOrderCompleted, handler)
}

func (c *Client) OnOrderCancelled(handler func(OrderStatusUpdate)) func() {
	return onTyped(c, EventOrderCancelled, handler)
}

func (c *Client) OnNewOrder(handler func(NewOrder)) func() {
	return onTyped(c, EventRestaurantNewOrder, handler)
}

func (c *Client) OnMenuUpdated(handler func(MenuUpdated)) func() {
	return onTyped(c, EventRestaurantMenuUpdated, handler)
}

func (c *Client) OnNewDelivery(handler func(NewDelivery)) func() {
	return onTyped(c, EventDriverNewDelivery, handler)
}

func (c *Client) OnNotification(handler func(Notification)) func() {
	return onTyped(c, EventNotificationNew, handler)
}

func onTyped[T any](c *Client, event string, handler func(T)) func() {
	return c.On(event, func(data json.RawMessage) {
		var payload T
		if err := json.Unmarshal(data, &payload); err != nil {
			c.log.WithComponent("realtime").WithError(err).WithField("event", event).Warn("failed to decode event payload")
			return
		}
		handler(payload)
	})
}
