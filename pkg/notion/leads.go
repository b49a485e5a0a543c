package notion

import (
	"context"
	"strings"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
)

// StatusImported is written back to a page once its lead has been stored.
const StatusImported = "Imported"

// LeadRecord is a prospect row read from a Notion lead database.
type LeadRecord struct {
	PageID       string
	CompanyName  string
	Email        string
	Website      string
	Phone        string
	City         string
	Region       string
	ActivityType string
	Notes        string
}

// Property names accepted for each field, checked in order.
var (
	companyProps  = []string{"Company", "Entreprise", "Name", "Nom"}
	emailProps    = []string{"Email", "E-mail"}
	websiteProps  = []string{"Website", "URL", "Site", "Domain", "Domaine"}
	phoneProps    = []string{"Phone", "Téléphone", "Telephone"}
	cityProps     = []string{"City", "Ville"}
	regionProps   = []string{"Region", "Région"}
	activityProps = []string{"Activity", "Activité", "Type"}
	notesProps    = []string{"Notes", "Description"}
)

// QueryLeads returns the lead pages of a database. A non-empty status limits
// the query to pages whose Status property equals it.
func QueryLeads(ctx context.Context, c Client, dbID, status string) ([]LeadRecord, error) {
	var query *notionapi.DatabaseQueryRequest
	if status != "" {
		query = &notionapi.DatabaseQueryRequest{
			Filter: notionapi.PropertyFilter{
				Property: "Status",
				Status:   &notionapi.StatusFilterCondition{Equals: status},
			},
		}
	}

	pages, err := QueryAll(ctx, c, dbID, query)
	if err != nil {
		return nil, eris.Wrap(err, "notion: query leads")
	}

	leads := make([]LeadRecord, 0, len(pages))
	for _, p := range pages {
		rec := LeadFromPage(p)
		if rec.CompanyName == "" {
			continue
		}
		leads = append(leads, rec)
	}
	return leads, nil
}

// MarkImported sets the page's Status property to StatusImported.
func MarkImported(ctx context.Context, c Client, pageID string) error {
	_, err := c.UpdatePage(ctx, pageID, &notionapi.PageUpdateRequest{
		Properties: notionapi.Properties{
			"Status": notionapi.StatusProperty{
				Status: notionapi.Status{Name: StatusImported},
			},
		},
	})
	return err
}

// LeadFromPage maps a page's properties to a LeadRecord by property name.
func LeadFromPage(p notionapi.Page) LeadRecord {
	return LeadRecord{
		PageID:       string(p.ID),
		CompanyName:  firstText(p.Properties, companyProps),
		Email:        firstText(p.Properties, emailProps),
		Website:      firstText(p.Properties, websiteProps),
		Phone:        firstText(p.Properties, phoneProps),
		City:         firstText(p.Properties, cityProps),
		Region:       firstText(p.Properties, regionProps),
		ActivityType: firstText(p.Properties, activityProps),
		Notes:        firstText(p.Properties, notesProps),
	}
}

func firstText(props notionapi.Properties, names []string) string {
	for _, n := range names {
		if prop, ok := props[n]; ok {
			if s := propertyText(prop); s != "" {
				return s
			}
		}
	}
	return ""
}

// propertyText flattens the property types a lead database typically uses.
func propertyText(prop notionapi.Property) string {
	switch p := prop.(type) {
	case *notionapi.TitleProperty:
		return richText(p.Title)
	case *notionapi.RichTextProperty:
		return richText(p.RichText)
	case *notionapi.EmailProperty:
		return strings.TrimSpace(p.Email)
	case *notionapi.URLProperty:
		return strings.TrimSpace(p.URL)
	case *notionapi.PhoneNumberProperty:
		return strings.TrimSpace(p.PhoneNumber)
	case *notionapi.SelectProperty:
		return p.Select.Name
	case *notionapi.StatusProperty:
		return p.Status.Name
	}
	return ""
}

func richText(rt []notionapi.RichText) string {
	var b strings.Builder
	for _, r := range rt {
		b.WriteString(r.PlainText)
	}
	return strings.TrimSpace(b.String())
}
