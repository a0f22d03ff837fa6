package domain

type CheckoutStep string

const (
	StepContact  CheckoutStep = "contact"
	StepShipping CheckoutStep = "shipping"
	StepPayment  CheckoutStep = "payment"
)

var stepOrder = map[CheckoutStep]int{
	StepContact:  0,
	StepShipping: 1,
	StepPayment:  2,
}

// Index returns the step's position in the checkout sequence, or -1
// for an unknown step.
func (s CheckoutStep) Index() int {
	idx, ok := stepOrder[s]
	if !ok {
		return -1
	}
	return idx
}

func (s CheckoutStep) Valid() bool {
	return s.Index() >= 0
}

type ContactInfo struct {
	Email     string `bson:"email,omitempty" json:"email,omitempty"`
	Completed bool   `bson:"completed" json:"completed"`
}

type Address struct {
	Line1      string `bson:"line1" json:"line1"`
	Line2      string `bson:"line2,omitempty" json:"line2,omitempty"`
	City       string `bson:"city" json:"city"`
	Region     string `bson:"region" json:"region"`
	PostalCode string `bson:"postal_code" json:"postal_code"`
	Country    string `bson:"country" json:"country"`
}

func (a Address) IsZero() bool {
	return a == Address{}
}

type ShippingInfo struct {
	ShippingAddress *Address `bson:"shipping_address,omitempty" json:"shipping_address,omitempty"`
	BillingAddress  *Address `bson:"billing_address,omitempty" json:"billing_address,omitempty"`
	SameAsShipping  bool     `bson:"same_as_shipping" json:"same_as_shipping"`
	Method          string   `bson:"method,omitempty" json:"method,omitempty"`
	Completed       bool     `bson:"completed" json:"completed"`
}

// CheckoutState tracks the linear contact -> shipping -> payment
// progression. Payment holds no persisted state here; it belongs to
// the payment collaborator.
type CheckoutState struct {
	CurrentStep CheckoutStep `bson:"current_step" json:"current_step"`
	Contact     ContactInfo  `bson:"contact" json:"contact"`
	Shipping    ShippingInfo `bson:"shipping" json:"shipping"`
}

func NewCheckoutState() CheckoutState {
	return CheckoutState{CurrentStep: StepContact}
}

// ClearAfter drops all data belonging to steps strictly after target,
// so rewinding never leaves stale downstream state behind.
func (s *CheckoutState) ClearAfter(target CheckoutStep) {
	if target.Index() < stepOrder[StepShipping] {
		s.Shipping = ShippingInfo{}
	}
}
