package identity

// FriendView is a read-only snapshot of a friend. It never writes back into
// the cache.
type FriendView struct {
	AccountID string
	UserID    string
	Info      Record
}

type GroupView struct {
	AccountID string
	GroupID   string
	Info      Record
}

type MemberView struct {
	AccountID string
	GroupID   string
	UserID    string
	Info      Record
}

// PickFriend builds a view of userID. Overrides are layered on top of the
// cached record in the returned copy only.
func (c *Cache) PickFriend(userID string, overrides Record) FriendView {
	rec, _ := c.Friend(userID)
	for k, v := range overrides {
		rec[k] = v
	}
	if _, ok := rec["user_id"]; !ok {
		rec["user_id"] = userID
	}
	return FriendView{AccountID: c.accountID, UserID: userID, Info: rec}
}

func (c *Cache) PickGroup(groupID string, overrides Record) GroupView {
	rec, _ := c.Group(groupID)
	for k, v := range overrides {
		rec[k] = v
	}
	if _, ok := rec["group_id"]; !ok {
		rec["group_id"] = groupID
	}
	return GroupView{AccountID: c.accountID, GroupID: groupID, Info: rec}
}

func (c *Cache) PickMember(groupID, userID string, overrides Record) MemberView {
	rec, ok := c.Member(groupID, userID)
	if !ok {
		// Fall back to what we know about the user as a friend.
		rec, _ = c.Friend(userID)
	}
	for k, v := range overrides {
		rec[k] = v
	}
	rec["group_id"] = groupID
	rec["user_id"] = userID
	return MemberView{AccountID: c.accountID, GroupID: groupID, UserID: userID, Info: rec}
}

// Context flattens the views into the "e" object used by suffix templates.
func Context(accountID, userID, groupID string, friend, group, member Record) map[string]any {
	e := map[string]any{
		"self_id":  accountID,
		"user_id":  userID,
		"group_id": groupID,
	}
	if friend != nil {
		e["friend"] = map[string]string(friend.Clone())
	}
	if group != nil {
		e["group"] = map[string]string(group.Clone())
	}
	if member != nil {
		e["member"] = map[string]string(member.Clone())
	}
	return e
}
