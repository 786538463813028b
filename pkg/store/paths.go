package store

import "strings"

func MessagesPath(conversationID string) string { return "messages/" + conversationID }
func ChatPath(conversationID string) string { return "chats/" + conversationID }
func UserChatsPath(uid string) string { return "userChats/" + uid }
func UserChatPath(owner, peer string) string { return "userChats/" + owner + "/" + peer }
func StatusPath(uid string) string { return "status/" + uid }
func UserPath(uid string) string { return "users/" + uid }

// IsUnder reports whether docPath is path itself or one of its descendants.
func IsUnder(docPath, path string) bool {
	return docPath == path || strings.HasPrefix(docPath, path+"/")
}

// Base returns the last segment of a path.
func Base(path string) string {
	return path[strings.LastIndex(path, "/")+1:]
}
