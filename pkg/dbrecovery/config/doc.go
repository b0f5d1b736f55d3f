/*
Package config loads the recovery tool's settings.

# Overview

Config wraps a map[string]any and provides typed accessor methods that return
a default value when a key is missing or cannot be converted. Settings is the
typed view the dbrecover command works with.

# File Loading

YAML, JSON and INI files are supported, chosen by extension:

	cfg, err := config.FromFile("dbrecover.yaml")
	if err != nil {
	    return err
	}
	settings, err := config.LoadSettings(cfg)

The same settings in each format:

	# dbrecover.yaml
	database_path: /var/lib/app/app.db
	state_dir: /var/lib/app/state
	integrity_mode: full
	tables:
	  flawless: [accounts, settings]
	  skip: [search_cache]

	; dbrecover.ini
	database_path = /var/lib/app/app.db
	state_dir = /var/lib/app/state
	integrity_mode = full

	[tables]
	flawless = accounts, settings
	skip = search_cache

# Type Coercion

INI values are always strings, so Int, Int64, Float and Bool parse strings,
and StringSlice splits a string on commas. Duration accepts a
time.ParseDuration string or a number of seconds.

# Thread Safety

Config is safe for concurrent read access. The underlying map is not
modified after creation.
*/
package config
