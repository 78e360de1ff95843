package billing

import (
	"fmt"
	"time"
)

// Notice titles used in message logs.
const (
	TitleDueNotice           = "BILLING-DUE"
	TitleThrottleNotice      = "BILLING-THROTTLE"
	TitleDisconnectionNotice = "BILLING-CUTOFF"
)

const throttleNotice = `NOTICE OF THROTTLE

Dear Valued Client,

This is to inform you that today marks your 4th day of unpaid balance.

As part of our policy, your internet connection will be throttled within 1 hour if payment is not received.

Please settle your account immediately to avoid reduced internet speed. Send your proof of payment to our official page for verification.

If payment has been made, restoration will come after 5-10 minutes.

Thank you for your cooperation and continued trust.`

const disconnectionNotice = `NOTICE OF SERVICE DISCONNECTION

Dear Valued Client,

This is to inform you that your account has been unpaid for 7 days.

If payment is not settled, your internet connection will be disconnected within 1 hour as per our policy.

Please make your payment immediately to avoid service interruption and send your proof of payment to our official page for confirmation.

If payment has been made, restoration will come after 5-10 minutes.

We appreciate your immediate attention to this matter.`

// DueNotice renders the friendly payment reminder sent on the due date.
func DueNotice(dueDate time.Time, amount float64) string {
	return fmt.Sprintf(`Good day!

This is a friendly reminder that your internet account payment is due on %s, amounting to %.2f pesos only.

If payment is not received within 4 days, your connection may be throttled. If payment remains unpaid after 7 days, your internet service will be disconnected. Once payment is made, your connection will be restored.

If you have already made the payment, kindly disregard this message.`,
		dueDate.Format("January 02, 2006"), amount)
}
