// Package store provides SQLite persistence for employees, action plans and
// actions. A plan and its actions are committed in a single transaction;
// readers never observe a partially written plan.
package store
