package orders

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

type ItemInput struct {
	ProductID int64 `json:"product_id" validate:"gt=0"`
	Quantity  int   `json:"quantity" validate:"gt=0,lte=1000"`
}

// CreateOrderRequest is the checkout payload.
type CreateOrderRequest struct {
	CustomerName    string      `json:"customer_name" validate:"required,max=255"`
	CustomerEmail   string      `json:"customer_email" validate:"required,email,max=255"`
	CustomerPhone   string      `json:"customer_phone" validate:"required,phone"`
	ShippingAddress string      `json:"shipping_address" validate:"required,max=1000"`
	Notes           string      `json:"notes" validate:"max=1000"`
	DeliveryDate    string      `json:"delivery_date" validate:"omitempty,datetime=2006-01-02"`
	DeliveryTime    string      `json:"delivery_time" validate:"max=50"`
	Items           []ItemInput `json:"items" validate:"required,min=1,max=100,dive"`
}

// PaymentResult is what the provider's client SDK reported. Only OrderID is
// used; the status is always re-fetched from the provider.
type PaymentResult struct {
	OrderID           string `json:"order_id" validate:"required,max=64"`
	StatusCode        string `json:"status_code"`
	TransactionStatus string `json:"transaction_status"`
}

// SaveOrderRequest records an order whose payment completed client-side.
type SaveOrderRequest struct {
	CreateOrderRequest
	PaymentResult PaymentResult `json:"payment_result"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	if err := v.RegisterValidation("phone", validatePhone); err != nil {
		panic(err)
	}
	return v
}

func validatePhone(fl validator.FieldLevel) bool {
	return isPhone(fl.Field().String())
}

// isPhone accepts 10 to 15 digits with an optional leading '+' and the usual
// separators (spaces, dashes, dots, parentheses).
func isPhone(s string) bool {
	s = strings.TrimPrefix(s, "+")
	digits := 0
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == ' ', r == '-', r == '.', r == '(', r == ')':
		default:
			return false
		}
	}
	return digits >= 10 && digits <= 15
}

func (r *CreateOrderRequest) normalize() {
	r.CustomerName = strings.TrimSpace(r.CustomerName)
	r.CustomerEmail = strings.TrimSpace(r.CustomerEmail)
	r.CustomerPhone = strings.TrimSpace(r.CustomerPhone)
	r.ShippingAddress = strings.TrimSpace(r.ShippingAddress)
	r.Notes = strings.TrimSpace(r.Notes)
	r.DeliveryDate = strings.TrimSpace(r.DeliveryDate)
	r.DeliveryTime = strings.TrimSpace(r.DeliveryTime)
}

// Validate trims the request and checks it against the checkout schema.
func (r *CreateOrderRequest) Validate() error {
	r.normalize()
	return toValidationError(validate.Struct(r))
}

func (r *SaveOrderRequest) Validate() error {
	r.normalize()
	r.PaymentResult.OrderID = strings.TrimSpace(r.PaymentResult.OrderID)

	fields := map[string]string{}
	for _, err := range []error{
		validate.Struct(&r.CreateOrderRequest),
		validate.Struct(&r.PaymentResult),
	} {
		if verr := toValidationError(err); verr != nil {
			var ve *ValidationError
			if !errors.As(verr, &ve) {
				return verr
			}
			for k, v := range ve.Fields {
				fields[k] = v
			}
		}
	}

	if _, ok := fields["order_id"]; ok {
		fields["payment_result.order_id"] = fields["order_id"]
		delete(fields, "order_id")
	}
	if len(fields) > 0 {
		return &ValidationError{Message: "invalid order", Fields: fields}
	}
	return nil
}

func toValidationError(err error) error {
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fieldPath(fe)] = fieldMessage(fe)
	}
	return &ValidationError{Message: "invalid order", Fields: fields}
}

// fieldPath drops the struct name from the namespace: items[0].quantity.
func fieldPath(fe validator.FieldError) string {
	_, path, ok := strings.Cut(fe.Namespace(), ".")
	if !ok {
		return fe.Field()
	}
	return path
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "phone":
		return "must be 10-15 digits, optionally with a leading + and separators"
	case "datetime":
		return "must be a date in YYYY-MM-DD format"
	case "min":
		if fe.Kind() == reflect.Slice {
			return "must contain at least " + fe.Param() + " entry"
		}
		return "must be at least " + fe.Param() + " characters"
	case "max":
		if fe.Kind() == reflect.Slice {
			return "must contain at most " + fe.Param() + " entries"
		}
		return "must be at most " + fe.Param() + " characters"
	case "gt":
		return "must be greater than " + fe.Param()
	case "lte":
		return "must be at most " + fe.Param()
	default:
		return "is invalid"
	}
}
