// Package tgui holds small helpers for composing Telegram HTML messages:
// escaping, inline formatting and user mentions. Values of type H are
// already escaped and safe to send with ParseMode="HTML".
package tgui
