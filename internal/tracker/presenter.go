package tracker

import "sessiontrack/internal/models"

type Event string

const (
	EventUserUpdated  Event = "userUpdated"
	EventTrialExpired Event = "trialExpired"
)

// Presenter is the page surface the tracker drives. Implementations must
// be safe for concurrent use.
type Presenter interface {
	ShowBanner(message string, kind models.NoticeType)
	ShowLogoutMessage(message string)
	Redirect(target string)
	Emit(event Event, payload any)
}

type NopPresenter struct{}

func (NopPresenter) ShowBanner(string, models.NoticeType) {}
func (NopPresenter) ShowLogoutMessage(string)             {}
func (NopPresenter) Redirect(string)                      {}
func (NopPresenter) Emit(Event, any)                      {}
