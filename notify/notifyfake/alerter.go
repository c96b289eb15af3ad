package notifyfake

import (
	"sync"

	"github.com/jrsteele09/go-crm-session/notify"
)

var _ notify.Alerter = (*FakeAlerter)(nil)

// Alert is one recorded alert.
type Alert struct {
	Title   string
	Message string
}

type FakeAlerter struct {
	lock   sync.Mutex
	alerts []Alert
}

func NewFakeAlerter() *FakeAlerter {
	return &FakeAlerter{}
}

func (a *FakeAlerter) Alert(title, message string) {
	a.lock.Lock()
	defer a.lock.Unlock()
	a.alerts = append(a.alerts, Alert{Title: title, Message: message})
}

func (a *FakeAlerter) Alerts() []Alert {
	a.lock.Lock()
	defer a.lock.Unlock()
	return append([]Alert(nil), a.alerts...)
}
