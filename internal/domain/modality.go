package domain

import "fmt"

// Modality tags which embedding space a vector belongs to.
type Modality string

const (
	// ModalityText marks vectors computed from product descriptions.
	ModalityText Modality = "text"
	// ModalityImage marks vectors computed from product images.
	ModalityImage Modality = "image"
)

// ParseModality validates a modality string from an external payload.
func ParseModality(s string) (Modality, error) {
	switch Modality(s) {
	case ModalityText, ModalityImage:
		return Modality(s), nil
	default:
		return "", fmt.Errorf("unknown modality %q", s)
	}
}

func (m Modality) String() string { return string(m) }
