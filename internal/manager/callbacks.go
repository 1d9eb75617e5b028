package manager

// Callbacks are the events the Multi-Server Manager fires back to its
// host (normally pkg/engine, which re-exposes them through its own
// EventSink). Every field is optional; a nil callback is simply not
// invoked.
type Callbacks struct {
	OnDataChanged          func()
	OnURLGenerated         func(url string)
	OnURLsChanged          func()
	OnFilterChanged        func(filter string)
	OnFilterEnabledChanged func(enabled bool)
	OnRowSelected          func(uniqueID string)
}

func (cb Callbacks) dataChanged() {
	if cb.OnDataChanged != nil {
		cb.OnDataChanged()
	}
}

func (cb Callbacks) urlGenerated(url string) {
	if cb.OnURLGenerated != nil {
		cb.OnURLGenerated(url)
	}
}

func (cb Callbacks) urlsChanged() {
	if cb.OnURLsChanged != nil {
		cb.OnURLsChanged()
	}
}
