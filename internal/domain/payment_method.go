package domain

// PaymentMethodType — тип сохранённого метода оплаты.
type PaymentMethodType string

const (
	PaymentMethodCreditCard     PaymentMethodType = "CREDIT_CARD"
	PaymentMethodDebitCard      PaymentMethodType = "DEBIT_CARD"
	PaymentMethodBankTransfer   PaymentMethodType = "BANK_TRANSFER"
	PaymentMethodCashOnDelivery PaymentMethodType = "CASH_ON_DELIVERY"
	PaymentMethodPayAtStore     PaymentMethodType = "PAY_AT_STORE"
)

// Online сообщает, что метод можно использовать для онлайн-оплаты на checkout.
func (t PaymentMethodType) Online() bool {
	switch t {
	case PaymentMethodCreditCard, PaymentMethodDebitCard, PaymentMethodBankTransfer:
		return true
	default:
		return false
	}
}

// PaymentMethod — метод оплаты покупателя. Sequence — порядковый номер, который покупатель выбирает на checkout.
type PaymentMethod struct {
	ID       string
	UserID   string
	Sequence int
	Type     PaymentMethodType
	Name     string
	Active   bool
}

// CheckUsableBy проверяет, что метод принадлежит пользователю, активен и онлайн.
func (m PaymentMethod) CheckUsableBy(userID string) error {
	if m.UserID != userID {
		return ErrPaymentMethodForeign
	}
	if !m.Active {
		return ErrPaymentMethodInactive
	}
	if !m.Type.Online() {
		return ErrPaymentMethodOffline
	}
	return nil
}
