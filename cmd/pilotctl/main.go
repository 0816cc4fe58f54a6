// pilotctl обслуживающие операции InboxPilot вне HTTP-консоли.
//
// Usage:
//
//	# Применить схему базы
//	pilotctl migrate --config configs/config.yaml
//
//	# Загрузить стартовые политики
//	pilotctl seed --file configs/policies.yaml
//
//	# Переиндексировать аудит из основного хранилища
//	pilotctl replay-audit
//
//	# Пересчитать статистику политик по окну
//	pilotctl recompute-stats
//
//	# Заявки на отписку письмом
//	pilotctl unsubscribe-queue --drain
//
//	# Аварийно остановить исполнение для всех
//	pilotctl hold '*'
package main

func main() {
	Execute()
}
