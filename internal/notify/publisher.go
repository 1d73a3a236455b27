package notify

import (
	"context"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/engine-watch/internal/model"
	"github.com/sells-group/engine-watch/pkg/notion"
)

// Listing page statuses in the Notion database.
const (
	StatusActive  = "Active"
	StatusRemoved = "Removed"
)

const identityProperty = "Identity"

// NotionPublisher mirrors added and removed listings into a Notion database.
// Pages are keyed by the listing identity stored in the Identity column.
type NotionPublisher struct {
	client notion.Client
	dbID   string
	log    *zap.Logger
}

// NewNotionPublisher creates a publisher for the given database.
func NewNotionPublisher(client notion.Client, dbID string) *NotionPublisher {
	return &NotionPublisher{
		client: client,
		dbID:   dbID,
		log:    zap.L().With(zap.String("component", "notify.notion")),
	}
}

// Publish creates an Active page for each listing that has none yet.
// Returns the number of pages created.
func (p *NotionPublisher) Publish(ctx context.Context, listings []model.Listing) (int, error) {
	if len(listings) == 0 {
		return 0, nil
	}
	active, err := p.activeByIdentity(ctx)
	if err != nil {
		return 0, err
	}

	created := 0
	for _, l := range listings {
		id := l.Identity()
		if _, ok := active[id]; ok {
			p.log.Debug("listing already published", zap.String("identity", id))
			continue
		}
		req := &notionapi.PageCreateRequest{
			Parent: notionapi.Parent{
				Type:       notionapi.ParentTypeDatabaseID,
				DatabaseID: notionapi.DatabaseID(p.dbID),
			},
			Properties: listingProperties(l),
		}
		if _, err := p.client.CreatePage(ctx, req); err != nil {
			return created, eris.Wrapf(err, "notion publisher: create page for %s", l.EngineModel)
		}
		active[id] = ""
		created++
	}
	p.log.Info("published listings", zap.Int("created", created))
	return created, nil
}

// Retire marks the Active pages of the given identities as Removed.
// Returns the number of pages updated.
func (p *NotionPublisher) Retire(ctx context.Context, identities []string) (int, error) {
	if len(identities) == 0 {
		return 0, nil
	}
	active, err := p.activeByIdentity(ctx)
	if err != nil {
		return 0, err
	}

	updated := 0
	for _, id := range identities {
		pageID, ok := active[id]
		if !ok {
			continue
		}
		_, err := p.client.UpdatePage(ctx, pageID, &notionapi.PageUpdateRequest{
			Properties: notionapi.Properties{
				notion.StatusProperty: notion.Status(StatusRemoved),
			},
		})
		if err != nil {
			return updated, eris.Wrapf(err, "notion publisher: retire page %s", pageID)
		}
		updated++
	}
	p.log.Info("retired listings", zap.Int("updated", updated))
	return updated, nil
}

func (p *NotionPublisher) activeByIdentity(ctx context.Context) (map[string]string, error) {
	pages, err := notion.QueryByStatus(ctx, p.client, p.dbID, StatusActive)
	if err != nil {
		return nil, eris.Wrap(err, "notion publisher: load active pages")
	}
	out := make(map[string]string, len(pages))
	for _, page := range pages {
		if id := notion.PlainText(page.Properties[identityProperty]); id != "" {
			out[id] = string(page.ID)
		}
	}
	return out, nil
}

func listingProperties(l model.Listing) notionapi.Properties {
	row := l.Row()
	props := notionapi.Properties{
		identityProperty:      notion.Text(l.Identity()),
		notion.StatusProperty: notion.Status(StatusActive),
		"Listing Source":      notion.Select(string(l.Source)),
	}
	for i, col := range model.Columns {
		switch col {
		case "Engine Model":
			props[col] = notion.Title(row[i])
		case "Listing Link":
			if !model.IsUnknown(row[i]) {
				props[col] = notion.URL(row[i])
			}
		case "Listing Source":
		default:
			props[col] = notion.Text(row[i])
		}
	}
	return props
}
