package controller

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"restaurant-order-service/internal/dto"
	"restaurant-order-service/internal/middleware"
	"restaurant-order-service/internal/model"
	"restaurant-order-service/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const placeOrderFailed = "failed to place order, please try again"

type OrderController struct {
	Service *service.OrderService
	log     *logrus.Logger
}

func NewOrderController(s *service.OrderService, logger *logrus.Logger) *OrderController {
	return &OrderController{Service: s, log: logger}
}

// RegisterRoutes mounts checkout on public and the dashboard routes on admin.
func (ctl *OrderController) RegisterRoutes(public, admin gin.IRouter) {
	public.GET("/ping", ctl.Ping)
	public.GET("/health", ctl.Health)
	public.POST("/orders", ctl.CreateOrder)

	admin.GET("/orders", ctl.ListOrders)
	admin.GET("/orders/:id", ctl.GetOrder)
	admin.PATCH("/orders/:id", ctl.UpdateStatus)
	admin.POST("/orders/:id/complete", ctl.CompleteOrder)
	admin.GET("/admin/counters/:date", ctl.GetCounter)
}

// POST /orders - public checkout
func (ctl *OrderController) CreateOrder(c *gin.Context) {
	var req dto.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ctl.entry(c).Warnf("Controller: malformed order body: %v", err)
		c.JSON(http.StatusBadRequest, dto.ValidationErrorResponse{Errors: bindErrorFields(err)})
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GetHeader("Idempotency-Key")
	}

	res, err := ctl.Service.CreateOrder(c.Request.Context(), req)
	if err != nil {
		var verr *service.ValidationError
		if errors.As(err, &verr) {
			c.JSON(http.StatusBadRequest, dto.ValidationErrorResponse{Errors: verr.Fields})
			return
		}
		ctl.entry(c).Errorf("Controller: place order failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": placeOrderFailed})
		return
	}

	c.JSON(http.StatusCreated, dto.CreateOrderResponse{
		Success:     true,
		OrderNumber: res.Order.OrderNumber,
		ID:          res.Order.ID,
		Replayed:    res.Replayed,
		Order:       res.Order,
	})
}

// GET /orders?date=YYYYMMDD&status=pending&page=1&limit=50&all=true
func (ctl *OrderController) ListOrders(c *gin.Context) {
	q := service.ListQuery{
		Date:   c.Query("date"),
		Status: c.Query("status"),
	}
	var err error
	if q.IncludeAll, err = strconv.ParseBool(c.DefaultQuery("all", "false")); err != nil {
		c.JSON(http.StatusBadRequest, dto.ValidationErrorResponse{
			Errors: []dto.FieldError{{Field: "all", Message: "all must be true or false"}},
		})
		return
	}

	var ok bool
	if q.Page, ok = intQuery(c, "page"); !ok {
		c.JSON(http.StatusBadRequest, dto.ValidationErrorResponse{
			Errors: []dto.FieldError{{Field: "page", Message: "page must be a positive integer"}},
		})
		return
	}
	if q.Limit, ok = intQuery(c, "limit"); !ok {
		c.JSON(http.StatusBadRequest, dto.ValidationErrorResponse{
			Errors: []dto.FieldError{{Field: "limit", Message: "limit must be a positive integer"}},
		})
		return
	}

	page, err := ctl.Service.ListOrders(c.Request.Context(), q)
	if err != nil {
		ctl.fail(c, err)
		return
	}

	orders := page.Orders
	if orders == nil {
		orders = []model.Order{}
	}
	totalPages := page.TotalPages()
	c.JSON(http.StatusOK, dto.OrderListResponse{
		Orders: orders,
		Pagination: dto.Pagination{
			CurrentPage: page.Page,
			TotalPages:  totalPages,
			TotalCount:  page.TotalCount,
			Limit:       page.Limit,
			HasNextPage: page.Page < totalPages,
			HasPrevPage: page.Page > 1,
		},
	})
}

func (ctl *OrderController) GetOrder(c *gin.Context) {
	o, err := ctl.Service.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		ctl.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

// PATCH /orders/:id {"status": "..."}
func (ctl *OrderController) UpdateStatus(c *gin.Context) {
	var req dto.UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ValidationErrorResponse{
			Errors: []dto.FieldError{{Field: "status", Message: "status is required"}},
		})
		return
	}

	o, err := ctl.Service.UpdateStatus(c.Request.Context(), c.Param("id"), req.Status)
	if err != nil {
		ctl.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.UpdateStatusResponse{Success: true, Order: o})
}

func (ctl *OrderController) CompleteOrder(c *gin.Context) {
	o, err := ctl.Service.MarkCompleted(c.Request.Context(), c.Param("id"))
	if err != nil {
		ctl.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.UpdateStatusResponse{Success: true, Order: o})
}

// GET /admin/counters/:date
func (ctl *OrderController) GetCounter(c *gin.Context) {
	counter, err := ctl.Service.CounterInfo(c.Request.Context(), c.Param("date"))
	if err != nil {
		ctl.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, counter)
}

func (ctl *OrderController) Ping(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "pong"})
}

func (ctl *OrderController) Health(c *gin.Context) {
	if err := ctl.Service.Health(c.Request.Context()); err != nil {
		ctl.entry(c).Warnf("Controller: health check failed: %v", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (ctl *OrderController) fail(c *gin.Context, err error) {
	status, body := errorResponse(err)
	if status >= http.StatusInternalServerError {
		ctl.entry(c).Errorf("Controller: %s %s: %v", c.Request.Method, c.FullPath(), err)
	}
	c.JSON(status, body)
}

func (ctl *OrderController) entry(c *gin.Context) *logrus.Entry {
	return ctl.log.WithField("request_id", c.GetString(middleware.RequestIDKey))
}

// errorResponse maps the service error taxonomy onto HTTP.
func errorResponse(err error) (int, any) {
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, dto.ValidationErrorResponse{Errors: verr.Fields}
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound, gin.H{"error": "not found"}
	case errors.Is(err, service.ErrStorageUnavailable):
		return http.StatusServiceUnavailable, gin.H{"error": "storage temporarily unavailable"}
	default:
		return http.StatusInternalServerError, gin.H{"error": "internal error"}
	}
}

// bindErrorFields names the offending field when the body has a value of the
// wrong JSON type, e.g. "total":"10".
func bindErrorFields(err error) []dto.FieldError {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		return []dto.FieldError{{
			Field:   typeErr.Field,
			Message: fmt.Sprintf("%s must be %s", typeErr.Field, jsonKind(typeErr.Type)),
		}}
	}
	return []dto.FieldError{{Field: "body", Message: "request body must be a JSON order"}}
}

func jsonKind(t reflect.Type) string {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.Float32, reflect.Float64, reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return "a number"
	case reflect.String:
		return "a string"
	case reflect.Slice, reflect.Array:
		return "an array"
	case reflect.Struct, reflect.Map:
		return "an object"
	default:
		return "a valid value"
	}
}

// intQuery returns 0 for a missing parameter and false for a malformed one.
func intQuery(c *gin.Context, name string) (int, bool) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}
