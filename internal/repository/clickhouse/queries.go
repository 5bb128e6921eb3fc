package clickhouse

import "fmt"

// Warehouse table names. The tables themselves are built and owned by
// the dbt project; the syncer only reads them. The conversion log
// table name is configuration since it is ours to create.
const (
	trialsTable         = "stg_php_prod__trial_started"
	paymentsTable       = "fct_payments"
	dimUsersTable       = "dim_users"
	dimAttributionTable = "dim_attribution"
)

// QueryParams parameterizes the candidate queries.
type QueryParams struct {
	LogTable        string
	LookbackDays    int
	MaxRetries      int
	IncludeRenewals bool
}

// dedupCTEs builds the WITH block that feeds the per-platform
// eligibility expressions: the sent (event_id, platform) pairs and the
// pairs whose failed count reached the retry ceiling.
func dedupCTEs(p QueryParams, eventTypeFilter string) string {
	return fmt.Sprintf(`WITH
    sent_google AS (
        SELECT DISTINCT event_id
        FROM %[1]s
        WHERE platform = 'google_ads' AND status = 'sent' AND event_type %[2]s
    ),
    sent_microsoft AS (
        SELECT DISTINCT event_id
        FROM %[1]s
        WHERE platform = 'microsoft_ads' AND status = 'sent' AND event_type %[2]s
    ),
    capped_google AS (
        SELECT event_id
        FROM %[1]s
        WHERE platform = 'google_ads' AND status = 'failed' AND event_type %[2]s
        GROUP BY event_id
        HAVING count() >= %[3]d
    ),
    capped_microsoft AS (
        SELECT event_id
        FROM %[1]s
        WHERE platform = 'microsoft_ads' AND status = 'failed' AND event_type %[2]s
        GROUP BY event_id
        HAVING count() >= %[3]d
    )`, p.LogTable, eventTypeFilter, p.MaxRetries)
}

// eligibilityColumns resolves click ids (per-user attribution first,
// first-touch fallback) and computes per-platform eligibility. An
// event with neither id resolves both flags to false and is dropped by
// the WHERE clause, so it never reaches the engine.
const eligibilityColumns = `    coalesce(du.conversion_gclid, da.first_touch_gclid, '') AS gclid,
    coalesce(du.conversion_msclkid, da.first_touch_msclkid, '') AS msclkid,
    toBool(gclid != ''
        AND event_id NOT IN (SELECT event_id FROM sent_google)
        AND event_id NOT IN (SELECT event_id FROM capped_google)) AS google_eligible,
    toBool(msclkid != ''
        AND event_id NOT IN (SELECT event_id FROM sent_microsoft)
        AND event_id NOT IN (SELECT event_id FROM capped_microsoft)) AS microsoft_eligible`

// contactColumns are the enhanced-conversion contact fields.
const contactColumns = `    coalesce(du.email, '') AS email,
    coalesce(du.first_name, '') AS first_name,
    coalesce(du.last_name, '') AS last_name,
    coalesce(du.city, '') AS city,
    coalesce(du.state, '') AS state,
    coalesce(du.country, '') AS country,
    coalesce(du.zip_code, '') AS zip_code`

// BuildTrialStartsQuery returns the candidate query for trial start
// events. Trials report a zero conversion value.
func BuildTrialStartsQuery(p QueryParams) string {
	return fmt.Sprintf(`%s
SELECT
    ts.event_id AS event_id,
    'trial_start' AS event_type,
    ts.user_id AS user_id,
    ts.trial_started_at AS conversion_time,
    toFloat64(0) AS conversion_value,
%s,
%s
FROM %s ts
LEFT JOIN %s du ON ts.user_id = du.user_id
LEFT JOIN %s da ON ts.user_id = da.user_id
WHERE
    ts.trial_started_at >= now() - INTERVAL %d DAY
    AND (google_eligible OR microsoft_eligible)`,
		dedupCTEs(p, "= 'trial_start'"),
		eligibilityColumns,
		contactColumns,
		trialsTable, dimUsersTable, dimAttributionTable,
		p.LookbackDays)
}

// BuildSubscriptionsQuery returns the candidate query for subscription
// payments. The billing frequency splits rows into monthly and yearly
// types; renewals are included only when configured.
func BuildSubscriptionsQuery(p QueryParams) string {
	paymentTypeFilter := "p.payment_type = 'initial_subscription'"
	if p.IncludeRenewals {
		paymentTypeFilter = "p.payment_type IN ('initial_subscription', 'renewal')"
	}

	return fmt.Sprintf(`%s
SELECT
    p.payment_id AS event_id,
    if(p.billing_frequency = 'annual', 'yearly_subscription', 'monthly_subscription') AS event_type,
    p.user_id AS user_id,
    p.payment_at AS conversion_time,
    toFloat64(p.amount) AS conversion_value,
%s,
%s
FROM %s p
LEFT JOIN %s du ON p.user_id = du.user_id
LEFT JOIN %s da ON p.user_id = da.user_id
WHERE
    p.payment_at >= now() - INTERVAL %d DAY
    AND %s
    AND p.payment_source = 'subscription'
    AND p.payment_status = 'completed'
    AND p.amount > 0
    AND (google_eligible OR microsoft_eligible)`,
		dedupCTEs(p, "IN ('monthly_subscription', 'yearly_subscription')"),
		eligibilityColumns,
		contactColumns,
		paymentsTable, dimUsersTable, dimAttributionTable,
		p.LookbackDays,
		paymentTypeFilter)
}

// BuildDocumentPurchasesQuery returns the candidate query for one-off
// document orders. Plan code 10 is the chat product and is excluded.
func BuildDocumentPurchasesQuery(p QueryParams) string {
	return buildOrderQuery(p, "document_purchase", "(p.plan_code IS NULL OR p.plan_code != '10')")
}

// BuildChatPurchasesQuery returns the candidate query for chat
// purchases (plan code 10).
func BuildChatPurchasesQuery(p QueryParams) string {
	return buildOrderQuery(p, "chat_purchase", "p.plan_code = '10'")
}

func buildOrderQuery(p QueryParams, eventType string, planFilter string) string {
	return fmt.Sprintf(`%s
SELECT
    p.payment_id AS event_id,
    '%s' AS event_type,
    p.user_id AS user_id,
    p.payment_at AS conversion_time,
    toFloat64(p.amount) AS conversion_value,
%s,
%s
FROM %s p
LEFT JOIN %s du ON p.user_id = du.user_id
LEFT JOIN %s da ON p.user_id = da.user_id
WHERE
    p.payment_at >= now() - INTERVAL %d DAY
    AND p.payment_type = 'order'
    AND p.payment_source = 'order'
    AND p.payment_status = 'completed'
    AND p.amount > 0
    AND %s
    AND (google_eligible OR microsoft_eligible)`,
		dedupCTEs(p, fmt.Sprintf("= '%s'", eventType)),
		eventType,
		eligibilityColumns,
		contactColumns,
		paymentsTable, dimUsersTable, dimAttributionTable,
		p.LookbackDays,
		planFilter)
}

// BuildRefundsQuery returns refund payments matched to the original
// sent conversion for the same user. When a user has several sent
// conversions on a platform, the most recent sent_at wins. Refunds
// already retracted or at the retry ceiling are excluded.
func BuildRefundsQuery(p QueryParams) string {
	return fmt.Sprintf(`WITH
    sent_refunds AS (
        SELECT event_id, platform
        FROM %[1]s
        WHERE event_type = 'refund' AND status = 'sent'
    ),
    capped_refunds AS (
        SELECT event_id, platform
        FROM %[1]s
        WHERE event_type = 'refund' AND status = 'failed'
        GROUP BY event_id, platform
        HAVING count() >= %[2]d
    ),
    ranked_originals AS (
        SELECT
            user_id,
            platform,
            event_id,
            click_id,
            conversion_time,
            conversion_action,
            currency_code,
            sent_at,
            ROW_NUMBER() OVER (PARTITION BY user_id, platform ORDER BY sent_at DESC) AS rn
        FROM %[1]s
        WHERE status = 'sent' AND event_type != 'refund'
    )
SELECT
    p.payment_id AS event_id,
    p.user_id AS user_id,
    p.payment_at AS conversion_time,
    toFloat64(p.amount) AS conversion_value,
    ro.event_id AS original_event_id,
    ro.platform AS platform,
    ro.click_id AS click_id,
    ro.conversion_time AS original_conversion_time,
    ro.conversion_action AS original_conversion_action,
    ro.sent_at AS original_sent_at,
    ro.currency_code AS original_currency_code
FROM %[3]s p
INNER JOIN ranked_originals ro ON p.user_id = ro.user_id AND ro.rn = 1
WHERE
    p.payment_at >= now() - INTERVAL %[4]d DAY
    AND p.payment_type IN ('refund', 'order_refund')
    AND p.amount < 0
    AND (p.payment_id, ro.platform) NOT IN (SELECT event_id, platform FROM sent_refunds)
    AND (p.payment_id, ro.platform) NOT IN (SELECT event_id, platform FROM capped_refunds)`,
		p.LogTable, p.MaxRetries, paymentsTable, p.LookbackDays)
}

// BuildCreateLogTableQuery returns the DDL for the conversion log
// table. Plain MergeTree: the log is append-only and retries insert
// new rows, so there is nothing to replace.
func BuildCreateLogTableQuery(logTable string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    event_id String,
    event_type LowCardinality(String),
    platform LowCardinality(String),
    click_id String,
    conversion_time DateTime64(3),
    conversion_value Float64,
    conversion_action String,
    currency_code LowCardinality(String),
    status LowCardinality(String),
    api_response String,
    error_message String,
    original_event_id String,
    user_id String,
    run_id String,
    sent_at DateTime64(3) DEFAULT now64(3)
) ENGINE = MergeTree
ORDER BY (event_id, platform, sent_at)
PARTITION BY toYYYYMM(sent_at)
SETTINGS index_granularity = 8192`, logTable)
}
