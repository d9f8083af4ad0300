package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/joy095/gobus/controllers/booking_controller"
	middleware "github.com/joy095/gobus/middlewares"
	"github.com/joy095/gobus/middlewares/auth"
	"github.com/joy095/gobus/models/shared_models"
	"github.com/redis/go-redis/v9"
)

// BookingRouteOptions carries what the booking routes need beyond the controller.
type BookingRouteOptions struct {
	JWTSecret        []byte
	Redis            *redis.Client // nil keeps rate limits in memory
	BookingRateLimit string
}

// RegisterBookingRoutes registers the passenger booking API, ticket
// validation, the public seat map and the payment webhook.
func RegisterBookingRoutes(router *gin.Engine, bookingController *booking_controller.BookingController, opts BookingRouteOptions) {
	rdb := opts.Redis

	// Public routes
	router.GET("/trips/:trip_id/seats",
		middleware.NewRateLimiter("60-1m", "seat-map", rdb),
		bookingController.SeatMap)
	router.POST("/webhooks/razorpay", bookingController.RazorpayWebhook)

	protected := router.Group("/bookings")
	protected.Use(auth.AuthMiddleware(opts.JWTSecret))
	{
		protected.POST("",
			middleware.CombinedRateLimiter("create-booking", rdb, opts.BookingRateLimit, "30-1h"),
			bookingController.CreateBooking)
		protected.GET("",
			middleware.NewRateLimiter("30-1m", "list-bookings", rdb),
			bookingController.ListBookings)
		protected.GET("/:booking_id", bookingController.GetBooking)

		protected.POST("/:booking_id/payment",
			middleware.NewRateLimiter("10-1m", "initiate-payment", rdb),
			bookingController.InitiatePayment)
		protected.POST("/:booking_id/payment/verify", bookingController.VerifyPayment)
		protected.POST("/:booking_id/extend",
			middleware.NewRateLimiter("3-10m", "extend-hold", rdb),
			bookingController.ExtendHold)
		protected.POST("/:booking_id/cancel", bookingController.CancelBooking)
		protected.GET("/:booking_id/ticket", bookingController.GetTicket)
	}

	tickets := router.Group("/tickets")
	tickets.Use(auth.AuthMiddleware(opts.JWTSecret), auth.RequireRole(shared_models.RoleOperator, shared_models.RoleAdmin))
	{
		tickets.POST("/validate",
			middleware.NewRateLimiter("120-1m", "validate-ticket", rdb),
			bookingController.ValidateTicket)
	}
}
