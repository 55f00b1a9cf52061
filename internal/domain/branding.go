package domain

// Branding es la informacion cosmetica del colegio (saludo y barra lateral).
type Branding struct {
	SchoolName string `json:"school_name"`
	LogoURL    string `json:"logo_url,omitempty"`
}
