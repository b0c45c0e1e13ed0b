package migration

// getAllMigrations retorna todas as migrações disponíveis
func getAllMigrations() []Migration {
	return []Migration{
		{
			Version: 1,
			Name:    "create_users_and_sessions",
			Up: `
				CREATE TABLE users (
					id UUID PRIMARY KEY,
					email VARCHAR(255) UNIQUE NOT NULL,
					password_hash VARCHAR(255) NOT NULL,
					created_at TIMESTAMPTZ DEFAULT NOW(),
					updated_at TIMESTAMPTZ DEFAULT NOW()
				);

				-- Sessões autenticadas (cookie session_id)
				CREATE TABLE sessions (
					token VARCHAR(128) PRIMARY KEY,
					user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					user_agent TEXT,
					created_at TIMESTAMPTZ DEFAULT NOW(),
					expires_at TIMESTAMPTZ NOT NULL
				);

				CREATE INDEX idx_sessions_expires_at ON sessions(expires_at);
			`,
			Down: `
				DROP TABLE IF EXISTS sessions;
				DROP TABLE IF EXISTS users;
			`,
		},
		{
			Version: 2,
			Name:    "create_platforms",
			Up: `
				CREATE TABLE platforms (
					id VARCHAR(50) PRIMARY KEY,
					name VARCHAR(100) NOT NULL,
					created_at TIMESTAMPTZ DEFAULT NOW()
				);

				INSERT INTO platforms (id, name) VALUES
					('web', 'Web'),
					('ios', 'iOS'),
					('android', 'Android'),
					('desktop', 'Desktop'),
					('backend', 'Backend / API');
			`,
			Down: `
				DROP TABLE IF EXISTS platforms;
			`,
		},
		{
			Version: 3,
			Name:    "create_quotations",
			Up: `
				CREATE TABLE quotations (
					id UUID PRIMARY KEY,
					user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					estimation_type VARCHAR(32) NOT NULL
						CHECK (estimation_type IN ('Fixed Price', 'Time & Material')),
					scope TEXT NOT NULL,
					buffer INTEGER NOT NULL DEFAULT 0 CHECK (buffer >= 0),
					dynamic_attributes JSONB NOT NULL DEFAULT '{}'::jsonb,
					created_at TIMESTAMPTZ DEFAULT NOW(),
					updated_at TIMESTAMPTZ DEFAULT NOW()
				);

				-- Plataformas vinculadas (removidas junto com a cotação)
				CREATE TABLE quotation_platforms (
					quotation_id UUID NOT NULL REFERENCES quotations(id) ON DELETE CASCADE,
					platform_id VARCHAR(50) NOT NULL REFERENCES platforms(id),
					PRIMARY KEY (quotation_id, platform_id)
				);

				CREATE TABLE quotation_tasks (
					id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
					quotation_id UUID NOT NULL REFERENCES quotations(id) ON DELETE CASCADE,
					task_description TEXT NOT NULL,
					man_days NUMERIC(10, 2) CHECK (man_days >= 0),
					position INTEGER NOT NULL DEFAULT 0,
					created_at TIMESTAMPTZ DEFAULT NOW()
				);

				-- No máximo uma avaliação por cotação
				CREATE TABLE reviews (
					id UUID PRIMARY KEY,
					quotation_id UUID NOT NULL UNIQUE REFERENCES quotations(id) ON DELETE CASCADE,
					rating INTEGER NOT NULL CHECK (rating BETWEEN 1 AND 5),
					comment TEXT,
					created_at TIMESTAMPTZ DEFAULT NOW()
				);
			`,
			Down: `
				DROP TABLE IF EXISTS reviews;
				DROP TABLE IF EXISTS quotation_tasks;
				DROP TABLE IF EXISTS quotation_platforms;
				DROP TABLE IF EXISTS quotations;
			`,
		},
		{
			Version: 4,
			Name:    "create_quotation_indexes",
			Up: `
				CREATE INDEX idx_quotations_user_created ON quotations(user_id, created_at DESC);
				CREATE INDEX idx_quotations_user_buffer ON quotations(user_id, buffer);
				CREATE INDEX idx_quotation_tasks_quotation ON quotation_tasks(quotation_id, position);
				CREATE INDEX idx_quotation_platforms_platform ON quotation_platforms(platform_id);
			`,
			Down: `
				DROP INDEX IF EXISTS idx_quotation_platforms_platform;
				DROP INDEX IF EXISTS idx_quotation_tasks_quotation;
				DROP INDEX IF EXISTS idx_quotations_user_buffer;
				DROP INDEX IF EXISTS idx_quotations_user_created;
			`,
		},
	}
}
