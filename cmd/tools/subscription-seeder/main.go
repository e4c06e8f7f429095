// cmd/tools/subscription-seeder/main.go
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"booking-webhooks/internal/common/config"
	"booking-webhooks/internal/common/database"
	"booking-webhooks/internal/models"
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS webhooks (
	id              TEXT PRIMARY KEY,
	user_id         BIGINT NOT NULL,
	team_id         BIGINT,
	event_type_id   BIGINT,
	subscriber_url  TEXT NOT NULL,
	secret          TEXT,
	active          BOOLEAN NOT NULL DEFAULT TRUE,
	event_triggers  TEXT[] NOT NULL DEFAULT '{}',
	app_id          TEXT
);
CREATE INDEX IF NOT EXISTS idx_webhooks_user_id ON webhooks (user_id) WHERE active;
CREATE INDEX IF NOT EXISTS idx_webhooks_event_type_id ON webhooks (event_type_id) WHERE active;
CREATE INDEX IF NOT EXISTS idx_webhooks_team_id ON webhooks (team_id) WHERE active;
`

func main() {
	addCmd := flag.NewFlagSet("add", flag.ExitOnError)
	userID := addCmd.Int64("userId", 0, "Owning user ID (required)")
	teamID := addCmd.Int64("teamId", 0, "Owning team ID (optional)")
	eventTypeID := addCmd.Int64("eventTypeId", 0, "Owning event type ID (optional)")
	subscriberURL := addCmd.String("url", "", "Subscriber endpoint URL (required)")
	secret := addCmd.String("secret", "", "Shared secret for payload signing (optional)")
	triggers := addCmd.String("triggers", "", "Comma-separated trigger list, empty for all")
	inactive := addCmd.Bool("inactive", false, "Create the subscription disabled")

	migrateCmd := flag.NewFlagSet("migrate", flag.ExitOnError)

	if len(os.Args) < 2 {
		help()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}
	pg, err := database.NewPostgres(cfg.Database.Postgres)
	if err != nil {
		fmt.Printf("Error connecting to postgres: %v\n", err)
		os.Exit(1)
	}
	defer pg.Close()

	switch os.Args[1] {
	case "migrate":
		migrateCmd.Parse(os.Args[2:])
		if _, err := pg.DB.Exec(schemaDDL); err != nil {
			fmt.Printf("Error applying schema: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Schema applied.")

	case "add":
		addCmd.Parse(os.Args[2:])
		if *userID == 0 || *subscriberURL == "" {
			fmt.Println("Error: userId and url are required for add.")
			addCmd.Usage()
			os.Exit(1)
		}
		kinds, err := parseTriggers(*triggers)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}

		id := uuid.New().String()
		names := make([]string, len(kinds))
		for i, k := range kinds {
			names[i] = string(k)
		}
		_, err = pg.DB.Exec(
			`INSERT INTO webhooks (id, user_id, team_id, event_type_id, subscriber_url, secret, active, event_triggers)
			 VALUES ($1, $2, NULLIF($3, 0), NULLIF($4, 0), $5, NULLIF($6, ''), $7, $8)`,
			id, *userID, *teamID, *eventTypeID, *subscriberURL, *secret, !*inactive, pq.Array(names),
		)
		if err != nil {
			fmt.Printf("Error inserting subscription: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Added subscription %s for user %d -> %s (%s)\n", id, *userID, *subscriberURL, strings.Join(names, ","))

	case "list":
		rows, err := pg.DB.Query(`SELECT id, user_id, subscriber_url, active, event_triggers FROM webhooks ORDER BY user_id`)
		if err != nil {
			fmt.Printf("Error listing subscriptions: %v\n", err)
			os.Exit(1)
		}
		defer rows.Close()
		for rows.Next() {
			var (
				id, url  string
				uid      int64
				active   bool
				triggers pq.StringArray
			)
			if err := rows.Scan(&id, &uid, &url, &active, &triggers); err != nil {
				fmt.Printf("Error scanning row: %v\n", err)
				os.Exit(1)
			}
			state := "active"
			if !active {
				state = "inactive"
			}
			fmt.Printf("%s  user=%d  %s  [%s]  %s\n", id, uid, state, strings.Join(triggers, ","), url)
		}

	default:
		help()
		os.Exit(1)
	}
}

func parseTriggers(raw string) ([]models.TriggerKind, error) {
	if raw == "" {
		return models.AllTriggers, nil
	}
	var kinds []models.TriggerKind
	for _, part := range strings.Split(raw, ",") {
		k := models.TriggerKind(strings.TrimSpace(part))
		if !k.Valid() {
			return nil, fmt.Errorf("unknown trigger %q", part)
		}
		kinds = append(kinds, k)
	}
	return kinds, nil
}

func help() {
	fmt.Println("Usage: subscription-seeder <command> [flags]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  migrate   Create the webhooks table and indexes")
	fmt.Println("  add       Insert a webhook subscription")
	fmt.Println("  list      Print all subscriptions")
}
