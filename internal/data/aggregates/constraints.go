package aggregates

// Named constraints whose violations are shown to users.
var knownConstraints = map[string]string{
	"users_email_check":                                    "Email must contain an @ sign.",
	"users_email_deleted_at_key":                           "A user with this email already exists.",
	"email_templates_subject_check":                        "Email template subject cannot be empty.",
	"group_memberships_group_id_user_id_deleted_at_key":    "The user is already a member of this group.",
	"user_groups_name_check":                               "Group name cannot be empty.",
	"courses_slug_deleted_at_key":                          "A course with this slug already exists.",
	"pages_course_id_url_path_deleted_at_key":              "A page with this URL path already exists in the course.",
	"exercise_slide_submissions_course_xor_exam_check":     "A submission must belong to exactly one of a course or an exam.",
	"course_module_completions_user_module_instance_key":   "The user already has a completion for this module.",
	"generated_certificates_user_configuration_key":        "A certificate has already been generated for this user.",
	"generated_certificates_verification_id_key":           "Verification id collision.",
	"oauth_clients_client_id_deleted_at_key":               "An OAuth client with this client id already exists.",
	"chatbot_configurations_default_per_course_key":        "The course already has a default chatbot.",
	"study_registry_registrars_name_deleted_at_key":        "A study registry registrar with this name already exists.",
	"exercise_services_slug_deleted_at_key":                "An exercise service with this slug already exists.",
	"user_chapter_locking_statuses_user_chapter_key":       "The chapter locking status already exists.",
	"peer_review_queue_entries_user_exercise_instance_key": "The submission is already in the peer review queue.",
	"peer_review_submissions_user_submission_key":          "You have already reviewed this answer.",
}

// KnownConstraint returns the human description of a named constraint.
func KnownConstraint(name string) (string, bool) {
	desc, ok := knownConstraints[name]
	return desc, ok
}
