package schema

// ContactInfo holds the candidate's contact details.
type ContactInfo struct {
	Address  string `json:"address"`
	Phone    string `json:"phone"`
	Email    string `json:"email" validate:"omitempty,email"`
	GitHub   string `json:"github"`
	LinkedIn string `json:"linkedin"`
}

type Education struct {
	Degree      string `json:"degree" validate:"required"`
	Institution string `json:"institution" validate:"required"`
	StartDate   string `json:"start_date"`
	EndDate     string `json:"end_date"`
}

type Experience struct {
	JobTitle     string   `json:"job_title" validate:"required"`
	Company      string   `json:"company" validate:"required"`
	StartDate    string   `json:"start_date"`
	EndDate      string   `json:"end_date"`
	Achievements []string `json:"achievements"`
}

// ResumeData is the tailored resume produced by the resume strategy task.
type ResumeData struct {
	Name        string       `json:"name" validate:"required"`
	AboutMe     string       `json:"about_me"`
	ContactInfo ContactInfo  `json:"contact_info"`
	Education   []Education  `json:"education" validate:"dive"`
	Experience  []Experience `json:"experience" validate:"required,min=1,dive"`
	Skills      []string     `json:"skills" validate:"required,min=1"`
	SoftSkills  []string     `json:"soft_skills"`
}
