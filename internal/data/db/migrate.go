package db

import (
	"fmt"

	types "github.com/yungbote/headless-lms/internal/domain"
	"gorm.io/gorm"
)

// Migrate creates tables and then the constraints gorm tags cannot express.
func Migrate(db *gorm.DB) error {
	if err := AutoMigrateAll(db); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	if err := EnsureConstraints(db); err != nil {
		return err
	}
	return EnsureIndexes(db)
}

func AutoMigrateAll(db *gorm.DB) error {
	return db.AutoMigrate(types.AllModels()...)
}

type constraint struct {
	table string
	name  string
	def   string
}

// Unique keys that must survive soft deletion include deleted_at and use
// NULLS NOT DISTINCT, so two live rows (deleted_at NULL) still collide while
// a soft-deleted row frees the key. ON CONFLICT can target the full tuple.
var constraints = []constraint{
	{"users", "users_email_check", `CHECK (strpos(email, '@') > 0)`},
	{"users", "users_email_deleted_at_key", `UNIQUE NULLS NOT DISTINCT (email, deleted_at)`},
	{"user_groups", "user_groups_name_check", `CHECK (name <> '')`},
	{"group_memberships", "group_memberships_group_id_user_id_deleted_at_key", `UNIQUE NULLS NOT DISTINCT (group_id, user_id, deleted_at)`},
	{"courses", "courses_slug_deleted_at_key", `UNIQUE NULLS NOT DISTINCT (slug, deleted_at)`},
	{"pages", "pages_course_id_url_path_deleted_at_key", `UNIQUE NULLS NOT DISTINCT (course_id, exam_id, url_path, deleted_at)`},
	{"pages", "pages_course_xor_exam_check", `CHECK ((course_id IS NULL) <> (exam_id IS NULL))`},
	{"exercise_services", "exercise_services_slug_deleted_at_key", `UNIQUE NULLS NOT DISTINCT (slug, deleted_at)`},
	{"exercise_slide_submissions", "exercise_slide_submissions_course_xor_exam_check", `CHECK ((course_id IS NULL) <> (exam_id IS NULL))`},
	{"exercise_slide_submissions", "exercise_slide_submissions_instance_check", `CHECK (course_id IS NULL OR course_instance_id IS NOT NULL)`},
	{"user_exercise_states", "user_exercise_states_user_exercise_instance_exam_key", `UNIQUE NULLS NOT DISTINCT (user_id, exercise_id, course_instance_id, exam_id, deleted_at)`},
	{"user_course_exercise_service_variables", "user_course_exercise_service_variables_key", `UNIQUE NULLS NOT DISTINCT (user_id, course_id, exam_id, exercise_service_slug, variable_key, deleted_at)`},
	{"peer_review_configs", "peer_review_configs_course_exercise_key", `UNIQUE NULLS NOT DISTINCT (course_id, exercise_id, deleted_at)`},
	{"peer_review_queue_entries", "peer_review_queue_entries_user_exercise_instance_key", `UNIQUE NULLS NOT DISTINCT (user_id, exercise_id, course_instance_id, deleted_at)`},
	{"peer_review_submissions", "peer_review_submissions_user_submission_key", `UNIQUE NULLS NOT DISTINCT (user_id, exercise_slide_submission_id, deleted_at)`},
	{"offered_answers_to_peer_review_temporary", "offered_answers_to_peer_review_temporary_key", `UNIQUE (exercise_id, user_id, course_instance_id)`},
	{"course_module_completions", "course_module_completions_user_module_instance_key", `UNIQUE NULLS NOT DISTINCT (user_id, course_module_id, course_instance_id, deleted_at)`},
	{"study_registry_registrars", "study_registry_registrars_name_deleted_at_key", `UNIQUE NULLS NOT DISTINCT (name, deleted_at)`},
	{"course_module_completion_registrations", "course_module_completion_registrations_key", `UNIQUE NULLS NOT DISTINCT (course_module_completion_id, study_registry_registrar_id, deleted_at)`},
	{"user_chapter_locking_statuses", "user_chapter_locking_statuses_user_chapter_key", `UNIQUE NULLS NOT DISTINCT (user_id, chapter_id, deleted_at)`},
	{"generated_certificates", "generated_certificates_user_configuration_key", `UNIQUE NULLS NOT DISTINCT (user_id, certificate_configuration_id, deleted_at)`},
	{"generated_certificates", "generated_certificates_verification_id_key", `UNIQUE (verification_id)`},
	{"oauth_clients", "oauth_clients_client_id_deleted_at_key", `UNIQUE NULLS NOT DISTINCT (client_id, deleted_at)`},
	{"oauth_auth_codes", "oauth_auth_codes_digest_key", `UNIQUE (digest)`},
	{"oauth_access_tokens", "oauth_access_tokens_digest_key", `UNIQUE (digest)`},
	{"oauth_refresh_tokens", "oauth_refresh_tokens_digest_key", `UNIQUE (digest)`},
	{"oauth_user_client_scopes", "oauth_user_client_scopes_key", `UNIQUE NULLS NOT DISTINCT (user_id, client_id, scope, deleted_at)`},
	{"page_visit_datum_daily_visit_hashing_keys", "page_visit_datum_daily_visit_hashing_keys_valid_for_date_key", `UNIQUE (valid_for_date)`},
	{"page_visit_datum_summary_by_courses", "page_visit_datum_summary_by_courses_visit_key", `UNIQUE NULLS NOT DISTINCT (course_id, country, device_type, referrer, utm_source, utm_medium, utm_campaign, utm_term, utm_content, visit_date, deleted_at)`},
	{"page_visit_datum_summary_by_pages", "page_visit_datum_summary_by_pages_key", `UNIQUE NULLS NOT DISTINCT (course_id, page_id, visit_date, deleted_at)`},
	{"page_visit_datum_summary_by_courses_device_types", "page_visit_datum_summary_by_courses_device_types_key", `UNIQUE NULLS NOT DISTINCT (course_id, device_type, operating_system, browser, visit_date, deleted_at)`},
	{"page_visit_datum_summary_by_courses_countries", "page_visit_datum_summary_by_courses_countries_key", `UNIQUE NULLS NOT DISTINCT (course_id, country, visit_date, deleted_at)`},
	{"email_templates", "email_templates_subject_check", `CHECK (subject <> '')`},
}

// retiredConstraints are dropped when a key was replaced under a new name.
var retiredConstraints = []constraint{
	{table: "page_visit_datum_summary_by_courses", name: "page_visit_datum_summary_by_courses_key"},
}

func EnsureConstraints(db *gorm.DB) error {
	for _, c := range retiredConstraints {
		stmt := fmt.Sprintf(`ALTER TABLE %s DROP CONSTRAINT IF EXISTS %s`, c.table, c.name)
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("drop %s: %w", c.name, err)
		}
	}
	for _, c := range constraints {
		var exists bool
		if err := db.Raw(`SELECT EXISTS (SELECT 1 FROM pg_constraint WHERE conname = ?)`, c.name).Scan(&exists).Error; err != nil {
			return fmt.Errorf("check %s: %w", c.name, err)
		}
		if exists {
			continue
		}
		stmt := fmt.Sprintf(`ALTER TABLE %s ADD CONSTRAINT %s %s`, c.table, c.name, c.def)
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("create %s: %w", c.name, err)
		}
	}
	return nil
}

func EnsureIndexes(db *gorm.DB) error {
	// Dispatcher claim order.
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_exercise_task_gradings_pending
		ON exercise_task_gradings (grading_priority DESC, created_at)
		WHERE deleted_at IS NULL AND grading_progress = 'Pending';
	`).Error; err != nil {
		return fmt.Errorf("create idx_exercise_task_gradings_pending: %w", err)
	}
	// One live default chatbot per course.
	if err := db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS chatbot_configurations_default_per_course_key
		ON chatbot_configurations (course_id)
		WHERE deleted_at IS NULL AND default_chatbot;
	`).Error; err != nil {
		return fmt.Errorf("create chatbot_configurations_default_per_course_key: %w", err)
	}
	// Outbox claim scan.
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_email_deliveries_due
		ON email_deliveries (next_retry_at NULLS FIRST, created_at)
		WHERE deleted_at IS NULL AND sent = false AND retryable = true;
	`).Error; err != nil {
		return fmt.Errorf("create idx_email_deliveries_due: %w", err)
	}
	// Roll-up scans by day.
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_page_visit_datum_day
		ON page_visit_datum (((created_at AT TIME ZONE 'UTC')::date))
		WHERE deleted_at IS NULL AND is_bot = false;
	`).Error; err != nil {
		return fmt.Errorf("create idx_page_visit_datum_day: %w", err)
	}
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_peer_review_queue_pick
		ON peer_review_queue_entries (exercise_id, course_instance_id, peer_review_priority DESC)
		WHERE deleted_at IS NULL AND received_enough_peer_reviews = false AND removed_from_queue_for_unusual_reason = false;
	`).Error; err != nil {
		return fmt.Errorf("create idx_peer_review_queue_pick: %w", err)
	}
	return nil
}
