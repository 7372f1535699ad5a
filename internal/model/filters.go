package model

// Filters is the sparse structured search filter set inferred from a user
// message. Nil or empty fields were not inferred.
type Filters struct {
	Type           string   `json:"type,omitempty"`
	MinRent        *float64 `json:"minRent,omitempty"`
	MaxRent        *float64 `json:"maxRent,omitempty"`
	City           string   `json:"city,omitempty"`
	State          string   `json:"state,omitempty"`
	Neighborhood   string   `json:"neighborhood,omitempty"`
	Bedrooms       *int     `json:"bedrooms,omitempty"`
	MinBedrooms    *int     `json:"minBedrooms,omitempty"`
	MaxBedrooms    *int     `json:"maxBedrooms,omitempty"`
	Bathrooms      *int     `json:"bathrooms,omitempty"`
	MinBathrooms   *int     `json:"minBathrooms,omitempty"`
	MaxBathrooms   *int     `json:"maxBathrooms,omitempty"`
	Amenities      []string `json:"amenities,omitempty"`
	Verified       *bool    `json:"verified,omitempty"`
	Eco            *bool    `json:"eco,omitempty"`
	PetFriendly    *bool    `json:"petFriendly,omitempty"`
	Furnished      *bool    `json:"furnished,omitempty"`
	MinLeaseMonths *int     `json:"minLeaseMonths,omitempty"`
	MaxLeaseMonths *int     `json:"maxLeaseMonths,omitempty"`
	AvailableFrom  string   `json:"availableFrom,omitempty"`
	BudgetFriendly bool     `json:"budgetFriendly,omitempty"`
}

// IsEmpty reports whether no field was inferred.
func (f Filters) IsEmpty() bool {
	return f.Type == "" && f.MinRent == nil && f.MaxRent == nil &&
		f.City == "" && f.State == "" && f.Neighborhood == "" &&
		f.Bedrooms == nil && f.MinBedrooms == nil && f.MaxBedrooms == nil &&
		f.Bathrooms == nil && f.MinBathrooms == nil && f.MaxBathrooms == nil &&
		len(f.Amenities) == 0 && f.Verified == nil && f.Eco == nil &&
		f.PetFriendly == nil && f.Furnished == nil &&
		f.MinLeaseMonths == nil && f.MaxLeaseMonths == nil &&
		f.AvailableFrom == "" && !f.BudgetFriendly
}

// HasLocation reports whether any location field was inferred.
func (f Filters) HasLocation() bool {
	return f.City != "" || f.State != "" || f.Neighborhood != ""
}
