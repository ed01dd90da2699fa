package notify

import (
	"context"
	"fmt"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// MessageCreator is the subset of the Twilio API service used here.
type MessageCreator interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// SMSNotifier texts recipients that have a phone number and skips the rest.
type SMSNotifier struct {
	api  MessageCreator
	from string
}

// NewTwilioNotifier builds an SMSNotifier on a Twilio REST client.
func NewTwilioNotifier(accountSID, authToken, from string) *SMSNotifier {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return NewSMSNotifier(client.Api, from)
}

func NewSMSNotifier(api MessageCreator, from string) *SMSNotifier {
	return &SMSNotifier{api: api, from: from}
}

func (s *SMSNotifier) Notify(ctx context.Context, n Notification) error {
	if n.Phone == "" {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(n.Phone)
	params.SetFrom(s.from)
	params.SetBody(fmt.Sprintf("%s: %s", n.Title, n.Message))

	if _, err := s.api.CreateMessage(params); err != nil {
		return fmt.Errorf("send sms to %s: %w", n.RecipientID, err)
	}
	return nil
}
