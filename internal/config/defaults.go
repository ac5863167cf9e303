package config

// defaultPHIFields 按表列出导入时需要单向哈希的 PII/PHI 字段。
// 配置文件可整体覆盖（phi_hashing.fields_to_hash）。
func defaultPHIFields() map[string][]string {
	return map[string][]string{
		"people": {
			"person_id",
			"first_name",
			"middle_name",
			"last_name",
			"preferred_name",
			"person_email_address",
			"person_phone_number",
			"current_person_address_line1",
			"current_person_address_line2",
			"medicaid_id",
			"medicare_id",
			"person_external_id",
		},
		"cases": {
			"case_id",
			"person_id",
			"case_external_id",
		},
		"referrals": {
			"referral_id",
			"case_id",
			"person_id",
			"referral_created_by_id",
			"referral_external_id",
		},
		"employees": {
			"employee_id",
			"first_name",
			"last_name",
			"email",
			"phone_number",
			"employee_external_id",
		},
		"assistance_requests": {
			"assistance_request_id",
			"person_id",
			"case_id",
			"person_first_name",
			"person_last_name",
			"person_date_of_birth",
			"person_middle_name",
			"person_preferred_name",
			"person_email_address",
			"person_phone_number",
			"address_line_1",
			"address_line_2",
		},
		"assistance_requests_supplemental_responses": {
			"ar_supplemental_response_id",
			"assistance_request_id",
		},
		"resource_lists": {
			"resource_list_id",
		},
		"resource_list_shares": {
			"share_id",
			"resource_list_id",
			"person_id",
		},
	}
}

func defaultExpectedTables() map[string][]string {
	return map[string][]string{
		"people":              {"person_id", "first_name", "last_name", "people_created_at"},
		"employees":           {"employee_id", "first_name", "last_name", "employee_created_at"},
		"cases":               {"case_id", "person_id", "case_created_at", "case_status"},
		"referrals":           {"referral_id", "person_id", "case_id", "referral_created_at"},
		"assistance_requests": {"assistance_request_id", "person_id", "case_id", "created_at"},
		"assistance_requests_supplemental_responses": {"ar_supplemental_response_id", "assistance_request_id", "created_at"},
		"resource_lists":       {"id", "resource_list_id", "resource_list_created_at"},
		"resource_list_shares": {"id", "resource_list_id", "person_id", "share_event_origin"},
	}
}

func defaultDateFields() map[string][]string {
	return map[string][]string{
		"people":              {"people_created_at", "people_updated_at", "date_of_birth"},
		"employees":           {"user_created_at", "user_updated_at", "employee_created_at", "employee_updated_at"},
		"cases":               {"case_created_at", "case_updated_at", "ar_submitted_on", "case_processed_at"},
		"referrals":           {"referral_created_at", "referral_updated_at", "referral_sent_at"},
		"assistance_requests": {"created_at", "updated_at"},
		"assistance_requests_supplemental_responses": {"created_at", "updated_at"},
		"resource_lists":       {"resource_list_created_at", "resource_list_updated_at"},
		"resource_list_shares": {},
	}
}

func defaultBooleanFields() map[string][]string {
	return map[string][]string{
		"people":              {"is_veteran", "mil_discharged_due_to_disability", "mil_service_connected_disability"},
		"employees":           {},
		"cases":               {"is_sensitive"},
		"referrals":           {},
		"assistance_requests": {"mil_discharged_due_to_disability", "mil_service_connected_disability"},
		"assistance_requests_supplemental_responses": {},
		"resource_lists":       {},
		"resource_list_shares": {},
	}
}

func defaultRequiredFields() map[string][]string {
	return map[string][]string{
		"people":              {"person_id"},
		"employees":           {"employee_id"},
		"cases":               {"case_id", "person_id"},
		"referrals":           {"referral_id"},
		"assistance_requests": {"assistance_request_id"},
		"assistance_requests_supplemental_responses": {"ar_supplemental_response_id", "assistance_request_id"},
		"resource_lists":       {"id", "resource_list_id"},
		"resource_list_shares": {"id", "resource_list_id"},
	}
}

// defaultPrimaryKeys 是各业务表用于 upsert 去重的主键列。
func defaultPrimaryKeys() map[string]string {
	return map[string]string{
		"people":              "person_id",
		"employees":           "employee_id",
		"cases":               "case_id",
		"referrals":           "referral_id",
		"assistance_requests": "assistance_request_id",
		"assistance_requests_supplemental_responses": "ar_supplemental_response_id",
		"resource_lists":       "id",
		"resource_list_shares": "id",
	}
}

// ShouldHashField 判断某表某字段是否需要 PHI 哈希。
func (c PHIConfig) ShouldHashField(table string, field string) bool {
	if !c.Enable {
		return false
	}
	for _, f := range c.FieldsToHash[table] {
		if f == field {
			return true
		}
	}
	return false
}

// PrimaryKey 返回表的主键列；未知表返回空串。
func (c QualityConfig) PrimaryKey(table string) string {
	return c.PrimaryKeys[table]
}

// IsDateField 判断某表某字段是否需要日期规范化。
func (c QualityConfig) IsDateField(table string, field string) bool {
	for _, f := range c.DateFields[table] {
		if f == field {
			return true
		}
	}
	return false
}

// IsBooleanField 判断某表某字段是否需要布尔规范化。
func (c QualityConfig) IsBooleanField(table string, field string) bool {
	for _, f := range c.BooleanFields[table] {
		if f == field {
			return true
		}
	}
	return false
}

// IsRequiredField 判断某表某字段是否必填（空值记为质量问题并跳过该行）。
func (c QualityConfig) IsRequiredField(table string, field string) bool {
	for _, f := range c.RequiredFields[table] {
		if f == field {
			return true
		}
	}
	return false
}
