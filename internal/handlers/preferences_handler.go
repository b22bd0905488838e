package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/Dias221467/Vehicle_Marketplace/internal/models"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
)

var validate = validator.New()

// PreferencesPatch is the body of PATCH /preferences. Only the fields a
// client may set directly are accepted; the dismissed set and the admin
// fields change through their own operations.
type PreferencesPatch struct {
	DashboardTab       *string                `json:"dashboardTab" validate:"omitempty,oneof=myProperties admin"`
	LastSeenSiteUpdate *string                `json:"lastSeenSiteUpdate" validate:"omitempty,min=1,max=64"`
	Extra              map[string]interface{} `json:"extra" validate:"omitempty,max=32,dive,keys,min=1,max=64,excludesall=.$,endkeys"`
}

// PreferencesHandler serves the preference document of the caller.
type PreferencesHandler struct{}

func NewPreferencesHandler() *PreferencesHandler {
	return &PreferencesHandler{}
}

// GET /preferences
func (h *PreferencesHandler) GetPreferencesHandler(w http.ResponseWriter, r *http.Request) {
	session := sessionOrAbort(w, r)
	if session == nil {
		return
	}

	prefs, err := session.Preferences().Load(r.Context(), false)
	if err != nil {
		// last known state is still useful to the client
		logrus.WithError(err).Warn("Serving cached preferences")
	}
	writeJSON(w, http.StatusOK, prefs)
}

// PATCH /preferences
func (h *PreferencesHandler) UpdatePreferencesHandler(w http.ResponseWriter, r *http.Request) {
	session := sessionOrAbort(w, r)
	if session == nil {
		return
	}

	var patch PreferencesPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		logrus.WithError(err).Warn("Invalid preferences payload")
		http.Error(w, "Invalid request payload", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if err := validatePatch(patch); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	store := session.Preferences()
	ctx := r.Context()
	var writeErrs []error
	if patch.DashboardTab != nil {
		writeErrs = append(writeErrs, store.SetDashboardTab(ctx, *patch.DashboardTab))
	}
	if patch.LastSeenSiteUpdate != nil {
		writeErrs = append(writeErrs, store.MarkSiteUpdateSeen(ctx, *patch.LastSeenSiteUpdate))
	}
	if len(patch.Extra) > 0 {
		writeErrs = append(writeErrs, store.SaveMultiple(ctx, patch.Extra))
	}
	if err := errors.Join(writeErrs...); err != nil {
		// the local value is kept; the client sees it on the next read
		logrus.WithError(err).Warn("Preference write not persisted")
	}

	prefs, _ := store.Preferences()
	writeJSON(w, http.StatusOK, prefs)
}

// DELETE /admin/dismissed
func (h *PreferencesHandler) ClearDismissedHandler(w http.ResponseWriter, r *http.Request) {
	session := sessionOrAbort(w, r)
	if session == nil {
		return
	}

	if err := session.ClearDismissed(r.Context()); err != nil {
		writeServiceError(w, err, "Failed to clear dismissed notifications")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Dismissed notifications cleared"})
}

// GET /admin/activity
func (h *PreferencesHandler) GetActivityHandler(w http.ResponseWriter, r *http.Request) {
	session := sessionOrAbort(w, r)
	if session == nil {
		return
	}

	prefs, err := session.Preferences().Load(r.Context(), false)
	if err != nil {
		logrus.WithError(err).Warn("Serving cached activity log")
	}
	writeJSON(w, http.StatusOK, prefs.AdminActivityLog)
}

func validatePatch(p PreferencesPatch) error {
	if err := validate.Struct(p); err != nil {
		var vErrs validator.ValidationErrors
		if errors.As(err, &vErrs) {
			return fmt.Errorf("field %s failed rule %s", vErrs[0].Field(), vErrs[0].Tag())
		}
		return err
	}
	for k := range p.Extra {
		if _, known := (models.PreferenceSet{}).Get(k); known {
			return fmt.Errorf("field %s cannot be set through extra", k)
		}
	}
	return nil
}
