package models

func (a Attachment) GetTenantId() string {
	return a.TenantId
}

func (d Defect) GetTenantId() string {
	return d.TenantId
}

func (h History) GetTenantId() string {
	return h.TenantId
}

func (i Inspection) GetTenantId() string {
	return i.TenantId
}

func (s SealOutboxMessage) GetTenantId() string {
	return s.TenantId
}

func (s Site) GetTenantId() string {
	return s.TenantId
}

func (u User) GetTenantId() string {
	return u.TenantId
}
