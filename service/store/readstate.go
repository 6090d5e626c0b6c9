package store

// Watermarks holds both participants' last_read_message_id for one chat.
type Watermarks struct {
	Mine  int64
	Other int64
}

// IsRead: a viewer's own message is read once the other participant's watermark
// reaches it; anyone else's once the viewer's own does.
func (w Watermarks) IsRead(viewerID int64, m Message) bool {
	if m.UserID == viewerID {
		return m.ID <= w.Other
	}
	return m.ID <= w.Mine
}

// ApplyReadState fills IsRead on every view in place.
func ApplyReadState(viewerID int64, w Watermarks, views []MessageView) {
	for i := range views {
		views[i].IsRead = w.IsRead(viewerID, views[i].Message)
	}
}
