package salesforce

import (
	"context"
	"fmt"
	"strings"

	"github.com/Vovarama1992/chatcrm-relay/internal/relay"
)

const (
	objContact = "Contact"

	fieldChatID   = "Telegram_Chat_ID__c"
	fieldUsername = "Telegram_Username__c"

	contactColumns = "Id, Name, FirstName, LastName, Salutation, Phone, MobilePhone, Email, " + fieldChatID
)

type contactRow struct {
	ID          string `json:"Id"`
	Name        string `json:"Name"`
	FirstName   string `json:"FirstName"`
	LastName    string `json:"LastName"`
	Salutation  string `json:"Salutation"`
	Phone       string `json:"Phone"`
	MobilePhone string `json:"MobilePhone"`
	Email       string `json:"Email"`
	ChatID      string `json:"Telegram_Chat_ID__c"`
}

func (r contactRow) record() *relay.Record {
	phone := r.MobilePhone
	if phone == "" {
		phone = r.Phone
	}
	return &relay.Record{
		ID:         r.ID,
		Name:       r.Name,
		FirstName:  r.FirstName,
		LastName:   r.LastName,
		Salutation: r.Salutation,
		Phone:      phone,
		Email:      r.Email,
		ChatID:     r.ChatID,
	}
}

func (c *Client) findContact(ctx context.Context, where string) (*relay.Record, error) {
	soql := fmt.Sprintf("SELECT %s FROM Contact WHERE %s LIMIT 1", contactColumns, where)
	row, err := queryOne[contactRow](ctx, c, soql)
	if err != nil || row == nil {
		return nil, err
	}
	return row.record(), nil
}

func (c *Client) FindRecordByChatID(ctx context.Context, chatID string) (*relay.Record, error) {
	return c.findContact(ctx, fieldChatID+" = "+quote(chatID))
}

// FindRecordByPhone matches on the last nine digits of Phone or MobilePhone
// so stored numbers in any prefix style are found.
func (c *Client) FindRecordByPhone(ctx context.Context, phone string) (*relay.Record, error) {
	digits := phone
	if len(digits) > 9 {
		digits = digits[len(digits)-9:]
	}
	pattern := likeSuffix(digits)
	return c.findContact(ctx, "Phone LIKE "+pattern+" OR MobilePhone LIKE "+pattern)
}

func (c *Client) FindRecordByEmail(ctx context.Context, email string) (*relay.Record, error) {
	return c.findContact(ctx, "Email = "+quote(strings.ToLower(email)))
}

func (c *Client) CreateRecord(ctx context.Context, f relay.RecordFields) (string, error) {
	return c.create(ctx, objContact, contactFields(f))
}

// UpdateRecord writes only the non-empty fields.
func (c *Client) UpdateRecord(ctx context.Context, recordID string, f relay.RecordFields) error {
	fields := contactFields(f)
	if len(fields) == 0 {
		return nil
	}
	return c.update(ctx, objContact, recordID, fields)
}

func (c *Client) ListLinkedRecords(ctx context.Context) ([]relay.Record, error) {
	rows, err := query[contactRow](ctx, c,
		"SELECT "+contactColumns+" FROM Contact WHERE "+fieldChatID+" != null ORDER BY CreatedDate ASC")
	if err != nil {
		return nil, err
	}
	out := make([]relay.Record, 0, len(rows))
	for _, r := range rows {
		out = append(out, *r.record())
	}
	return out, nil
}

func contactFields(f relay.RecordFields) map[string]any {
	m := map[string]any{}
	set := func(k, v string) {
		if v != "" {
			m[k] = v
		}
	}
	set("FirstName", f.FirstName)
	set("LastName", f.LastName)
	set("Salutation", f.Salutation)
	set("Phone", f.Phone)
	set("MobilePhone", f.Phone)
	set(fieldChatID, f.ChatID)
	set(fieldUsername, f.Username)
	return m
}
